// Command ftpfs browses and edits FTP and FTPS servers through location
// URLs, with bookmarks and a visit history.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp()
	err := a.run(ctx, newRootCmd(a), os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
