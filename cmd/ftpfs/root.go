package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gonzalop/ftpfs"
	"github.com/gonzalop/ftpfs/editcache"
	"github.com/gonzalop/ftpfs/metrics"
	"github.com/gonzalop/ftpfs/store"
)

// app holds everything a command needs. It is set up once by the first
// command that runs and shared by every command of an interactive shell.
type app struct {
	v      *viper.Viper
	cfg    *config
	stdout io.Writer
	stderr io.Writer

	zap      *zap.Logger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	db       *store.DB
	pool     *ftpfs.Pool
	router   *ftpfs.Router
	commands *ftpfs.Commands
	edits    *editcache.Cache
	server   *http.Server

	ready   bool
	inShell bool
}

func newApp() *app {
	return &app{v: viper.New(), stdout: os.Stdout, stderr: os.Stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ftpfs",
		Short:         "Browse and edit FTP servers by location URL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	if !a.inShell {
		bindFlags(root.PersistentFlags())
	}

	root.AddCommand(
		newLsCmd(a),
		newStatCmd(a),
		newCatCmd(a),
		newGetCmd(a),
		newPutCmd(a),
		newCpCmd(a),
		newMvCmd(a),
		newRmCmd(a),
		newMkdirCmd(a),
		newTouchCmd(a),
		newEditCmd(a),
		newBookmarkCmd(a),
		newHistoryCmd(a),
	)
	if !a.inShell {
		root.AddCommand(newShellCmd(a))
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nrun '%s --help' for usage", err, cmd.CommandPath())
	})
	return root
}

// run executes one command line and releases everything it opened.
func (a *app) run(ctx context.Context, root *cobra.Command, args []string) error {
	err := a.execute(ctx, root, args)
	if serr := a.shutdown(); serr != nil {
		fmt.Fprintln(a.stderr, "ftpfs: shutdown:", serr)
		err = multierr.Append(err, serr)
	}
	return err
}

// execute runs args against root and prints the error, if any. The app
// stays open.
func (a *app) execute(ctx context.Context, root *cobra.Command, args []string) error {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(a.stderr, "ftpfs:", err)
	}
	return err
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.ready {
		return nil
	}

	cfg, err := loadConfig(a.v, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.zap, a.logger, err = newLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	a.metrics = metrics.New("ftpfs")

	poolOpts := []ftpfs.Option{
		ftpfs.WithLogger(a.logger),
		ftpfs.WithMetrics(a.metrics),
		ftpfs.WithTimeout(cfg.Timeout),
		ftpfs.WithMaxSessions(cfg.MaxSessions),
		ftpfs.WithIdleTimeout(cfg.IdleTimeout),
		ftpfs.WithBandwidthLimit(cfg.BandwidthLimit),
	}
	if cfg.DisableEPSV {
		poolOpts = append(poolOpts, ftpfs.WithDisableEPSV())
	}
	if cfg.InsecureSkipVerify {
		poolOpts = append(poolOpts, ftpfs.WithTLSConfig(&tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // opt-in flag
		}))
	}

	if a.pool, err = ftpfs.NewPool(poolOpts...); err != nil {
		return err
	}

	if err := a.openStore(); err != nil {
		return multierr.Append(err, a.shutdown())
	}

	routerOpts := []ftpfs.RouterOption{
		ftpfs.WithResolver(&ftpfs.Resolver{Bookmarks: a.db.Bookmarks()}),
	}
	if cfg.StatCacheTTL > 0 {
		routerOpts = append(routerOpts, ftpfs.WithStatCache(cfg.StatCacheTTL))
	}
	if a.router, err = ftpfs.NewRouter(a.pool, routerOpts...); err != nil {
		return multierr.Append(err, a.shutdown())
	}
	a.commands = ftpfs.NewCommands(a.router, a.db.Bookmarks(), a.db.History())

	a.ready = true
	a.logger.Debug("ftpfs ready", "db", cfg.DBPath, "max_sessions", cfg.MaxSessions)
	return nil
}

func (a *app) openStore() error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(a.cfg.DBPath), err)
	}
	var opts []store.Option
	if a.cfg.HistoryLimit > 0 {
		opts = append(opts, store.WithHistoryLimit(a.cfg.HistoryLimit))
	}
	db, err := store.Open(a.cfg.DBPath, opts...)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

// editCache is created on first use; most commands never need it.
func (a *app) editCache() (*editcache.Cache, error) {
	if a.edits != nil {
		return a.edits, nil
	}
	opts := []editcache.Option{editcache.WithLogger(a.logger)}
	if a.cfg.EditCacheDir != "" {
		opts = append(opts, editcache.WithDir(a.cfg.EditCacheDir))
	}
	c, err := editcache.New(a.router, opts...)
	if err != nil {
		return nil, err
	}
	a.edits = c
	return c, nil
}

// serveMetrics exposes the pool metrics on addr until shutdown.
func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	reg := prometheus.NewRegistry()
	a.metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	a.server = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) shutdown() error {
	if a.cfg == nil {
		return nil
	}
	timeout := a.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs error
	if a.server != nil {
		errs = multierr.Append(errs, a.server.Shutdown(ctx))
		a.server = nil
	}
	if a.edits != nil {
		errs = multierr.Append(errs, a.edits.Close())
		a.edits = nil
	}
	if a.pool != nil {
		errs = multierr.Append(errs, a.pool.Shutdown(ctx))
		a.pool = nil
	}
	if a.db != nil {
		errs = multierr.Append(errs, a.db.Close())
		a.db = nil
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
	a.ready = false
	return errs
}
