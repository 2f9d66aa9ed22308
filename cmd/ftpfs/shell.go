package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
)

func newShellCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively over shared connections",
		Long: "Run ftpfs commands one per line. Sessions stay open between " +
			"commands until they idle out or the shell exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			if metricsAddr != "" {
				if err := a.serveMetrics(metricsAddr); err != nil {
					return err
				}
			}
			a.inShell = true
			defer func() { a.inShell = false }()
			return a.shell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// shell reads command lines from in until EOF, exit, or ctx is done. Each
// line gets a fresh command tree over the same app.
func (a *app) shell(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "ftpfs> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintln(a.stderr, "ftpfs:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		}

		_ = a.execute(ctx, newRootCmd(a), args)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
