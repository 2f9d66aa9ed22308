package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// config is the resolved CLI configuration. Values come from flags, then
// FTPFS_* environment variables, then the YAML config file.
type config struct {
	LogLevel           string
	LogFormat          string
	Timeout            time.Duration
	MaxSessions        int
	IdleTimeout        time.Duration
	BandwidthLimit     int64
	DisableEPSV        bool
	InsecureSkipVerify bool
	StatCacheTTL       time.Duration
	DBPath             string
	HistoryLimit       int
	EditCacheDir       string
	Editor             string
	MetricsAddr        string
}

const defaultConfigDir = "~/.config/ftpfs"

func bindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default "+defaultConfigDir+"/config.yaml)")
	fs.String("log-level", "warn", "log level: debug, info, warn, error")
	fs.String("log-format", "console", "log format: console or json")
	fs.Duration("timeout", 30*time.Second, "connect and operation timeout")
	fs.Int("max-sessions", 16, "maximum open sessions, 0 for no limit")
	fs.Duration("idle-timeout", 5*time.Minute, "close sessions idle for this long, 0 to keep them")
	fs.Int64("bandwidth", 0, "transfer limit in bytes per second, 0 for none")
	fs.Bool("disable-epsv", false, "use PASV only")
	fs.Bool("insecure-skip-verify", false, "do not verify ftps server certificates")
	fs.Duration("stat-cache", 0, "cache stat results for this long")
	fs.String("db", defaultConfigDir+"/ftpfs.db", "bookmark and history database")
	fs.Int("history-limit", 500, "history entries to keep, 0 for all")
	fs.String("edit-dir", "", "directory for working copies (default: a temporary directory)")
	fs.String("editor", "", "editor for the edit command (default $VISUAL or $EDITOR)")
}

func loadConfig(v *viper.Viper, fs *pflag.FlagSet) (*config, error) {
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix("FTPFS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		dir, err := homedir.Expand(defaultConfigDir)
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &config{
		LogLevel:           v.GetString("log-level"),
		LogFormat:          v.GetString("log-format"),
		Timeout:            v.GetDuration("timeout"),
		MaxSessions:        v.GetInt("max-sessions"),
		IdleTimeout:        v.GetDuration("idle-timeout"),
		BandwidthLimit:     v.GetInt64("bandwidth"),
		DisableEPSV:        v.GetBool("disable-epsv"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		StatCacheTTL:       v.GetDuration("stat-cache"),
		HistoryLimit:       v.GetInt("history-limit"),
		Editor:             v.GetString("editor"),
		MetricsAddr:        v.GetString("metrics-addr"),
	}

	var err error
	if cfg.DBPath, err = expandPath(v.GetString("db")); err != nil {
		return nil, err
	}
	if cfg.EditCacheDir, err = expandPath(v.GetString("edit-dir")); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", p, err)
	}
	return filepath.Clean(expanded), nil
}
