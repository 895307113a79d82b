package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emulatorKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

func TestParse_Server(t *testing.T) {
	t.Setenv("AZURE_STORAGE_ACCOUNT", "acct1")
	t.Setenv("AZURE_STORAGE_KEY", emulatorKey)
	t.Setenv("SAS_MAX_LIFETIME", "1h")

	cfg, err := Parse[Server]()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 3*time.Minute, cfg.DefaultLifetime)
	assert.Equal(t, time.Hour, cfg.MaxLifetime)
	assert.Equal(t, "", cfg.DBPath)

	acct, err := cfg.ResolveAccount()
	require.NoError(t, err)
	assert.Equal(t, "acct1", acct.Name)
	assert.Equal(t, "https://acct1.blob.core.windows.net", acct.BlobEndpoint)
}

func TestParse_BadDuration(t *testing.T) {
	t.Setenv("SAS_MAX_LIFETIME", "forever")
	_, err := Parse[Server]()
	assert.Error(t, err)
}

func TestStorage_ResolveAccount(t *testing.T) {
	tests := []struct {
		name         string
		storage      Storage
		wantName     string
		wantEndpoint string
		wantErr      bool
	}{
		{
			name:         "connection string",
			storage:      Storage{ConnectionString: "UseDevelopmentStorage=true"},
			wantName:     "devstoreaccount1",
			wantEndpoint: "http://127.0.0.1:10000/devstoreaccount1",
		},
		{
			name: "connection string wins, endpoint override applies",
			storage: Storage{
				ConnectionString: "UseDevelopmentStorage=true",
				Account:          "ignored",
				Key:              emulatorKey,
				BlobEndpoint:     "http://azurite:10000/devstoreaccount1",
			},
			wantName:     "devstoreaccount1",
			wantEndpoint: "http://azurite:10000/devstoreaccount1",
		},
		{
			name:         "account and key",
			storage:      Storage{Account: "acct1", Key: emulatorKey},
			wantName:     "acct1",
			wantEndpoint: "https://acct1.blob.core.windows.net",
		},
		{
			name:    "nothing set",
			storage: Storage{},
			wantErr: true,
		},
		{
			name:    "account without key",
			storage: Storage{Account: "acct1"},
			wantErr: true,
		},
		{
			name:    "bad connection string",
			storage: Storage{ConnectionString: "AccountName=acct1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := tt.storage.ResolveAccount()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, acct.Name)
			assert.Equal(t, tt.wantEndpoint, acct.BlobEndpoint)
		})
	}
}

func TestParse_Download(t *testing.T) {
	cfg, err := Parse[Download]()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, cfg.Lifetime)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, int32(3), cfg.Retries)
	assert.Equal(t, ".", cfg.OutDir)

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero concurrency", "SAS_DOWNLOAD_CONCURRENCY", "0"},
		{"negative concurrency", "SAS_DOWNLOAD_CONCURRENCY", "-2"},
		{"negative retries", "SAS_DOWNLOAD_RETRIES", "-1"},
		{"zero lifetime", "SAS_DEFAULT_LIFETIME", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Parse[Download]()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
