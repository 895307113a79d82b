// Command sasdownload issues a short-lived account SAS from the configured
// storage account and uses it, rather than the account key, to download blobs.
//
// Usage:
//
//	sasdownload <container> <blob> [blob...]
//
// Each blob is written to CopyOf<name> in SAS_OUT_DIR. Virtual directories in
// the blob name are kept, so a/x.txt lands in SAS_OUT_DIR/a/CopyOfx.txt.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/bcspragu/blobsas/config"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: sasdownload <container> <blob> [blob...]")
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		log.Fatal(err)
	}
}

func run(container string, names []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Parse[config.Download]()
	if err != nil {
		return err
	}
	acct, err := cfg.ResolveAccount()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err = download(ctx, cfg, acct, container, names, logger)
	return err
}
