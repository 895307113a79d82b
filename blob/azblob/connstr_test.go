package azblob

import (
	"testing"

	"github.com/bcspragu/blobsas/sas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name    string
		connStr string
		want    *Account
	}{
		{
			name:    "default endpoints",
			connStr: "DefaultEndpointsProtocol=https;AccountName=acct1;AccountKey=" + emulatorAccountKey + ";EndpointSuffix=core.windows.net",
			want: &Account{
				Name:         "acct1",
				Key:          emulatorAccountKey,
				BlobEndpoint: "https://acct1.blob.core.windows.net",
			},
		},
		{
			name:    "sovereign cloud suffix",
			connStr: "AccountName=acct1;AccountKey=" + emulatorAccountKey + ";EndpointSuffix=core.chinacloudapi.cn",
			want: &Account{
				Name:         "acct1",
				Key:          emulatorAccountKey,
				BlobEndpoint: "https://acct1.blob.core.chinacloudapi.cn",
			},
		},
		{
			name:    "explicit blob endpoint",
			connStr: "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + emulatorAccountKey + ";BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1/;",
			want: &Account{
				Name:         "devstoreaccount1",
				Key:          emulatorAccountKey,
				BlobEndpoint: "http://127.0.0.1:10000/devstoreaccount1",
			},
		},
		{
			name:    "development storage",
			connStr: "UseDevelopmentStorage=true",
			want: &Account{
				Name:         emulatorAccount,
				Key:          emulatorAccountKey,
				BlobEndpoint: emulatorBlobEndpoint,
			},
		},
		{
			name:    "development storage with proxy",
			connStr: "UseDevelopmentStorage=true;DevelopmentStorageProxyUri=http://azurite:10000",
			want: &Account{
				Name:         emulatorAccount,
				Key:          emulatorAccountKey,
				BlobEndpoint: "http://azurite:10000/devstoreaccount1",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConnectionString(tt.connStr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConnectionString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		connStr string
	}{
		{"empty", ""},
		{"no key", "AccountName=acct1"},
		{"no name", "AccountKey=" + emulatorAccountKey},
		{"malformed", "AccountName=acct1;garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConnectionString(tt.connStr)
			assert.Error(t, err)
		})
	}
}

func TestAccount_Credential(t *testing.T) {
	acct, err := ParseConnectionString("UseDevelopmentStorage=true")
	require.NoError(t, err)

	cred, err := acct.Credential()
	require.NoError(t, err)
	assert.Equal(t, emulatorAccount, cred.Account)
	assert.Len(t, cred.Key, 64)

	_, err = (&Account{Name: "acct1", Key: "%%%"}).Credential()
	assert.True(t, sas.IsCredential(err))
}
