package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bcspragu/blobsas/blob"
	"github.com/bcspragu/blobsas/blob/azblob"
	"github.com/bcspragu/blobsas/config"
	"github.com/bcspragu/blobsas/sas"
	"golang.org/x/sync/errgroup"
)

// destination is where a blob gets written, relative to the output directory.
func destination(name string) (string, error) {
	rel := filepath.Join(filepath.FromSlash(path.Dir(name)), "CopyOf"+path.Base(name))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("blob name %q would be written outside the output directory", name)
	}
	return rel, nil
}

// download issues an account SAS for acct and uses it to copy each named blob
// into cfg.OutDir, at most cfg.Concurrency at a time. The returned metadata is
// in the same order as names.
func download(ctx context.Context, cfg *config.Download, acct *azblob.Account, container string, names []string, logger *slog.Logger) ([]*blob.DownloadMeta, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dests := make([]string, len(names))
	seen := make(map[string]string)
	for i, name := range names {
		rel, err := destination(name)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[rel]; ok {
			return nil, fmt.Errorf("blobs %q and %q would both be written to %q", prev, name, rel)
		}
		seen[rel] = name
		dests[i] = filepath.Join(cfg.OutDir, rel)
	}

	cred, err := acct.Credential()
	if err != nil {
		return nil, fmt.Errorf("failed to load account credential: %w", err)
	}

	// The storage emulator doesn't do HTTPS.
	tok, err := sas.Issue(cred, sas.Policy{
		Permissions:   sas.Read | sas.Write | sas.List | sas.Create | sas.Delete,
		ResourceTypes: sas.Container | sas.Object,
		Services:      sas.Blob,
		Protocol:      sas.HTTPSOrHTTP,
		Expiry:        time.Now().Add(cfg.Lifetime),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue account SAS: %w", err)
	}
	logger.Info("issued account SAS", "account", acct.Name, "expiry", tok.Expiry)

	client, err := azblob.New(acct.BlobEndpoint, tok, azblob.WithRetries(cfg.Retries))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithDeadline(ctx, tok.Expiry)
	defer cancel()

	start := time.Now()
	logger.Info("download start", "container", client.ContainerURL(container), "blobs", len(names))

	out := make([]*blob.DownloadMeta, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			dest := dests[i]
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("failed to create directory for %q: %w", dest, err)
			}
			blobStart := time.Now()
			logger.Info("downloading blob", "url", client.BlobURL(container, name), "dest", dest)

			md, err := client.Download(ctx, container, name, dest)
			if err != nil {
				return err
			}
			logger.Info("downloaded blob",
				"url", client.BlobURL(container, name),
				"path", md.Path,
				"size", md.Size,
				"duration", time.Since(blobStart))
			out[i] = md
			return nil
		})
	}
	err = g.Wait()

	logger.Info("download completed", "duration", time.Since(start), "ok", err == nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}
