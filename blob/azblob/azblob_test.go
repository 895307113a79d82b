package azblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/bcspragu/blobsas/sas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testToken(t *testing.T) *sas.Token {
	t.Helper()

	acct, err := ParseConnectionString("UseDevelopmentStorage=true")
	require.NoError(t, err)
	cred, err := acct.Credential()
	require.NoError(t, err)

	tok, err := sas.Issue(cred, sas.Policy{
		Permissions:   sas.Read | sas.Write | sas.List | sas.Create | sas.Delete,
		ResourceTypes: sas.Container | sas.Object,
		Services:      sas.Blob,
		Protocol:      sas.HTTPSOrHTTP,
		Expiry:        time.Now().Add(3 * time.Minute),
	})
	require.NoError(t, err)
	return tok
}

// fakeStorage is just enough of the blob REST API for the client under test.
type fakeStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
	sigs  []string

	// failStatus and failCode, if set, fail every request.
	failStatus int
	failCode   string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{blobs: make(map[string][]byte)}
}

func (f *fakeStorage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sigs = append(f.sigs, r.URL.Query().Get("sig"))

	if f.failStatus != 0 {
		w.Header().Set("x-ms-error-code", f.failCode)
		w.WriteHeader(f.failStatus)
		return
	}

	q := r.URL.Query()
	if q.Get("restype") == "container" && q.Get("comp") == "list" {
		f.list(w, r)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		dat, _ := io.ReadAll(r.Body)
		f.blobs[key] = dat
		w.Header().Set("ETag", `"0x1"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead, http.MethodGet:
		dat, ok := f.blobs[key]
		if !ok {
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"0x1"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("x-ms-blob-type", "BlockBlob")
		w.Header().Set("Content-Length", fmt.Sprint(len(dat)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(dat)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeStorage) list(w http.ResponseWriter, r *http.Request) {
	container := strings.TrimPrefix(r.URL.Path, "/")
	prefix := r.URL.Query().Get("prefix")

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	fmt.Fprintf(&sb, `<EnumerationResults ServiceEndpoint="http://%s/" ContainerName="%s"><Blobs>`, r.Host, container)
	for key, dat := range f.blobs {
		name, ok := strings.CutPrefix(key, container+"/")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		fmt.Fprintf(&sb, `<Blob><Name>%s</Name><Properties><Last-Modified>Thu, 14 Mar 2024 09:26:53 GMT</Last-Modified><Content-Length>%d</Content-Length></Properties></Blob>`, name, len(dat))
	}
	sb.WriteString(`</Blobs><NextMarker/></EnumerationResults>`)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, sb.String())
}

func TestNew(t *testing.T) {
	_, err := New("https://acct1.blob.core.windows.net", nil)
	assert.Error(t, err)

	_, err = New("https://acct1.blob.core.windows.net", &sas.Token{})
	assert.Error(t, err)

	c, err := New("https://acct1.blob.core.windows.net/", testToken(t))
	require.NoError(t, err)
	assert.Equal(t, "https://acct1.blob.core.windows.net/my-container", c.ContainerURL("my-container"))
}

func TestBlobURL(t *testing.T) {
	tok := testToken(t)
	c, err := New("https://acct1.blob.core.windows.net", tok)
	require.NoError(t, err)

	assert.Equal(t,
		"https://acct1.blob.core.windows.net/videos/2024/IMG%202388.MOV",
		c.BlobURL("videos", "2024/IMG 2388.MOV"))

	signed, err := c.SignedBlobURL("videos", "IMG_2388.MOV")
	require.NoError(t, err)
	assert.Equal(t, "https://acct1.blob.core.windows.net/videos/IMG_2388.MOV?"+tok.Value, signed)
	assert.Equal(t, tok.Expiry, c.Expiry())
}

func TestUploadDownloadList(t *testing.T) {
	fs := newFakeStorage()
	srv := httptest.NewServer(fs)
	defer srv.Close()

	tok := testToken(t)
	c, err := New(srv.URL, tok)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Upload(ctx, "sample", "IMG_2388.MOV", []byte("hello")))
	require.NoError(t, c.Upload(ctx, "sample", "other/notes.txt", []byte("hi")))

	dest := filepath.Join(t.TempDir(), "CopyOfIMG_2388.MOV")
	md, err := c.Download(ctx, "sample", "IMG_2388.MOV", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(5), md.Size)
	assert.Equal(t, dest, md.Path)

	dat, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(dat))

	infos, err := c.List(ctx, "sample", "other/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "other/notes.txt", infos[0].Name)
	assert.Equal(t, int64(2), infos[0].Size)

	// Every request carried the token.
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.sigs)
	for _, sig := range fs.sigs {
		assert.Equal(t, tok.Signature, sig)
	}
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(newFakeStorage())
	defer srv.Close()

	c, err := New(srv.URL, testToken(t))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "missing")
	_, err = c.Download(context.Background(), "sample", "missing.txt", dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_Forbidden(t *testing.T) {
	fs := newFakeStorage()
	fs.failStatus = http.StatusForbidden
	fs.failCode = "AuthorizationFailure"
	srv := httptest.NewServer(fs)
	defer srv.Close()

	c, err := New(srv.URL, testToken(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Download(ctx, "sample", "IMG_2388.MOV", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))

	err = c.Upload(ctx, "sample", "IMG_2388.MOV", []byte("hello"))
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = c.List(ctx, "sample", "")
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestWithRetries(t *testing.T) {
	fastRetry := func(o *azblob.ClientOptions) {
		o.Retry.RetryDelay = time.Millisecond
		o.Retry.MaxRetryDelay = 5 * time.Millisecond
	}

	tests := []struct {
		retries      int32
		wantRequests int
	}{
		{retries: 0, wantRequests: 1},
		{retries: 2, wantRequests: 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d retries", tt.retries), func(t *testing.T) {
			fs := newFakeStorage()
			fs.failStatus = http.StatusServiceUnavailable
			fs.failCode = "ServerBusy"
			srv := httptest.NewServer(fs)
			defer srv.Close()

			c, err := New(srv.URL, testToken(t), fastRetry, WithRetries(tt.retries))
			require.NoError(t, err)

			err = c.Upload(context.Background(), "sample", "IMG_2388.MOV", []byte("hello"))
			require.Error(t, err)

			fs.mu.Lock()
			defer fs.mu.Unlock()
			assert.Len(t, fs.sigs, tt.wantRequests)
		})
	}
}
