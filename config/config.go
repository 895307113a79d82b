// Package config loads settings from the environment. The account key only
// ever comes from here; nothing else in the module reads process state.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/bcspragu/blobsas/blob/azblob"
	"github.com/caarlos0/env/v11"
)

type Storage struct {
	// ConnectionString takes precedence over Account/Key when set.
	ConnectionString string `env:"AZURE_STORAGE_CONNECTION_STRING"`
	Account          string `env:"AZURE_STORAGE_ACCOUNT"`
	Key              string `env:"AZURE_STORAGE_KEY"`
	// BlobEndpoint overrides the endpoint derived from the account name.
	BlobEndpoint string `env:"AZURE_STORAGE_BLOB_ENDPOINT"`
}

type Server struct {
	Storage

	Addr string `env:"SAS_ADDR" envDefault:":8080"`
	// DBPath is the SQLite ledger. Empty keeps the ledger in memory.
	DBPath          string        `env:"SAS_DB_PATH"`
	DefaultLifetime time.Duration `env:"SAS_DEFAULT_LIFETIME" envDefault:"3m"`
	MaxLifetime     time.Duration `env:"SAS_MAX_LIFETIME" envDefault:"24h"`
	// Container, if set, is used to include a container URL in responses.
	Container string `env:"SAS_CONTAINER"`
}

type Download struct {
	Storage

	Lifetime    time.Duration `env:"SAS_DEFAULT_LIFETIME" envDefault:"3m"`
	Concurrency int           `env:"SAS_DOWNLOAD_CONCURRENCY" envDefault:"4"`
	// Retries is passed to the blob client's retry policy.
	Retries int32  `env:"SAS_DOWNLOAD_RETRIES" envDefault:"3"`
	OutDir  string `env:"SAS_OUT_DIR" envDefault:"."`
}

func (d *Download) Validate() error {
	if d.Lifetime <= 0 {
		return fmt.Errorf("SAS_DEFAULT_LIFETIME must be positive, got %s", d.Lifetime)
	}
	if d.Concurrency < 1 {
		return fmt.Errorf("SAS_DOWNLOAD_CONCURRENCY must be at least 1, got %d", d.Concurrency)
	}
	if d.Retries < 0 {
		return fmt.Errorf("SAS_DOWNLOAD_RETRIES can't be negative, got %d", d.Retries)
	}
	return nil
}

// Parse loads target from environment variables, then validates it if T has
// a Validate method.
func Parse[T any]() (*T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if v, ok := any(&cfg).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return &cfg, nil
}

// ResolveAccount resolves the configured storage account.
func (s Storage) ResolveAccount() (*azblob.Account, error) {
	if s.ConnectionString != "" {
		acct, err := azblob.ParseConnectionString(s.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
		if s.BlobEndpoint != "" {
			acct.BlobEndpoint = s.BlobEndpoint
		}
		return acct, nil
	}

	if s.Account == "" || s.Key == "" {
		return nil, errors.New("either AZURE_STORAGE_CONNECTION_STRING or both AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY must be set")
	}
	endpoint := s.BlobEndpoint
	if endpoint == "" {
		endpoint = azblob.DefaultEndpoint("https", s.Account, "core.windows.net")
	}
	return &azblob.Account{
		Name:         s.Account,
		Key:          s.Key,
		BlobEndpoint: endpoint,
	}, nil
}
