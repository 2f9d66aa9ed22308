package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/gonzalop/ftpfs"
)

func newLsCmd(a *app) *cobra.Command {
	var long, human bool
	cmd := &cobra.Command{
		Use:   "ls LOCATION",
		Short: "List a remote directory and record it in the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listing, err := a.commands.OpenLocation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), listing.Entries, long, human)
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "long listing")
	cmd.Flags().BoolVarP(&human, "human", "H", false, "human readable sizes")
	return cmd
}

func printEntries(out io.Writer, entries []ftpfs.DirEntry, long, human bool) error {
	if !long {
		for _, e := range entries {
			name := e.Name
			if e.IsDir() {
				name += "/"
			}
			fmt.Fprintln(out, name)
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t %s\n",
			e.Permissions, e.Owner, e.Group, formatSize(e.Size, human), formatTime(e.ModTime), entryName(e))
	}
	return tw.Flush()
}

func entryName(e ftpfs.DirEntry) string {
	if e.Type == ftpfs.EntryLink && e.Target != "" {
		return e.Name + " -> " + e.Target
	}
	return e.Name
}

func formatSize(n int64, human bool) string {
	if human {
		return humanize.Bytes(uint64(n))
	}
	return fmt.Sprint(n)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if time.Since(t) > 180*24*time.Hour {
		return t.Format("Jan _2  2006")
	}
	return t.Format("Jan _2 15:04")
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat LOCATION",
		Short: "Show attributes of a remote path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.router.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:        %s\n", e.Name)
			fmt.Fprintf(out, "Type:        %s\n", e.Type)
			fmt.Fprintf(out, "Size:        %d (%s)\n", e.Size, humanize.Bytes(uint64(e.Size)))
			fmt.Fprintf(out, "Permissions: %s\n", e.Permissions)
			fmt.Fprintf(out, "Owner:       %s:%s\n", e.Owner, e.Group)
			if e.ModTime.IsZero() {
				fmt.Fprintln(out, "Modified:    -")
			} else {
				fmt.Fprintf(out, "Modified:    %s (%s)\n", formatTime(e.ModTime), humanize.Time(e.ModTime))
			}
			if e.Target != "" {
				fmt.Fprintf(out, "Target:      %s\n", e.Target)
			}
			return nil
		},
	}
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat LOCATION...",
		Short: "Print remote files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, loc := range args {
				if _, err := a.router.Download(cmd.Context(), loc, cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "get LOCATION [LOCAL]",
		Short: "Download a remote file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := ftpfs.Parse(args[0])
			if err != nil {
				return err
			}
			name := path.Base(ref.RemotePath)
			local := name
			if len(args) == 2 {
				local = args[1]
				if fi, err := os.Stat(local); err == nil && fi.IsDir() {
					local = filepath.Join(local, name)
				}
			}

			var size int64
			if progress {
				if e, err := a.router.StatRef(cmd.Context(), ref); err == nil {
					size = e.Size
				}
			}

			f, err := os.Create(local)
			if err != nil {
				return err
			}
			var w io.Writer = f
			var line *progressLine
			if progress {
				line = newProgressLine(cmd.ErrOrStderr(), name, size)
				w = &progressWriter{w: f, callback: line.update}
			}

			n, err := a.router.Download(cmd.Context(), args[0], w)
			err = multierr.Append(err, f.Close())
			if line != nil {
				line.done(n)
			}
			if err != nil {
				_ = os.Remove(local)
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&progress, "progress", "P", false, "show transfer progress")
	return cmd
}

func newPutCmd(a *app) *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "put LOCAL LOCATION",
		Short: "Upload a local file",
		Long: "Upload a local file. When LOCATION is a directory the file keeps " +
			"its local name.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, dst := args[0], args[1]
			ref, err := ftpfs.Parse(dst)
			if err != nil {
				return err
			}
			if isDir, err := a.router.IsDir(cmd.Context(), dst); err == nil && isDir {
				dst = ref.Join(filepath.Base(local)).URL()
			}

			f, err := os.Open(local)
			if err != nil {
				return err
			}
			defer f.Close()

			// *os.File can rewind, so a dropped connection is retried
			var r io.Reader = f
			var line *progressLine
			if progress {
				fi, err := f.Stat()
				if err != nil {
					return err
				}
				line = newProgressLine(cmd.ErrOrStderr(), filepath.Base(local), fi.Size())
				r = &seekingProgressReader{progressReader{r: f, callback: line.update}, f}
			}

			n, err := a.router.Upload(cmd.Context(), dst, r)
			if line != nil {
				line.done(n)
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&progress, "progress", "P", false, "show transfer progress")
	return cmd
}

// seekingProgressReader keeps an upload source seekable so the router can
// rewind it on retry.
type seekingProgressReader struct {
	progressReader
	s io.Seeker
}

func (r *seekingProgressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.s.Seek(offset, whence)
	if err == nil {
		r.total = pos
	}
	return pos, err
}

func newCpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cp SRC DST",
		Short: "Copy a file between locations or local paths",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.router.Copy(cmd.Context(), args[0], args[1])
			return err
		},
	}
}

func newMvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv SRC DST",
		Short: "Move a file, renaming on the server when both sides share it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.router.Move(cmd.Context(), args[0], args[1])
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm LOCATION...",
		Short: "Remove remote files or empty directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs error
			for _, loc := range args {
				if recursive {
					errs = multierr.Append(errs, a.router.RemoveAll(cmd.Context(), loc))
				} else {
					errs = multierr.Append(errs, a.router.Remove(cmd.Context(), loc))
				}
			}
			return errs
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	return cmd
}

func newMkdirCmd(a *app) *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir LOCATION...",
		Short: "Create remote directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs error
			for _, loc := range args {
				if parents {
					errs = multierr.Append(errs, a.router.MkdirAll(cmd.Context(), loc))
				} else {
					errs = multierr.Append(errs, a.router.Mkdir(cmd.Context(), loc))
				}
			}
			return errs
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parents, no error if existing")
	return cmd
}

func newTouchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "touch LOCATION...",
		Short: "Create empty remote files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs error
			for _, loc := range args {
				errs = multierr.Append(errs, a.router.Touch(cmd.Context(), loc))
			}
			return errs
		},
	}
}

func newEditCmd(a *app) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "edit LOCATION",
		Short: "Edit a remote file with a local editor and upload the changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			editor := editorCommand(a.cfg.Editor)
			if editor == "" {
				return errors.New("no editor: set --editor, $VISUAL or $EDITOR")
			}

			cache, err := a.editCache()
			if err != nil {
				return err
			}
			h, err := cache.Download(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			run := exec.CommandContext(cmd.Context(), editor, h.LocalPath)
			run.Stdin, run.Stdout, run.Stderr = os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr()
			if err := run.Run(); err != nil {
				return multierr.Append(fmt.Errorf("editor %s: %w", editor, err), cache.Release(h))
			}

			uploaded, err := cache.Sync(cmd.Context(), h)
			if err != nil {
				// the edits only exist locally now
				return fmt.Errorf("working copy kept at %s: %w", h.LocalPath, err)
			}
			if !uploaded {
				fmt.Fprintln(cmd.ErrOrStderr(), "no changes")
			}
			if keep {
				fmt.Fprintln(cmd.ErrOrStderr(), "working copy:", h.LocalPath)
				return nil
			}
			return cache.Release(h)
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the working copy after upload")
	return cmd
}

func editorCommand(configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv("VISUAL"); v != "" {
		return v
	}
	return os.Getenv("EDITOR")
}
