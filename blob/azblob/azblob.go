// Package azblob provides the blob operations a delegation token holder needs,
// backed by Azure Blob Storage. The client never sees the account key, only a
// SAS token issued by package sas.
package azblob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/bcspragu/blobsas/blob"
	"github.com/bcspragu/blobsas/sas"
)

var (
	ErrNotFound  = errors.New("blob or container not found")
	ErrForbidden = errors.New("token was rejected by the storage service")
)

type Client struct {
	endpoint string
	token    *sas.Token
	svc      *azblob.Client
}

type Option func(*azblob.ClientOptions)

// WithRetries sets how many times a failed request is retried. Zero disables
// retries.
func WithRetries(n int32) Option {
	return func(o *azblob.ClientOptions) {
		if n <= 0 {
			// azcore treats zero as "use the default".
			n = -1
		}
		o.Retry.MaxRetries = n
	}
}

// New returns a client for the account at endpoint, e.g.
// https://acct.blob.core.windows.net, authenticated only by tok.
func New(endpoint string, tok *sas.Token, opts ...Option) (*Client, error) {
	if tok == nil || tok.Value == "" {
		return nil, errors.New("no SAS token provided")
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid blob endpoint %q: %w", endpoint, err)
	}

	cOpts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: 3,
				RetryDelay: 500 * time.Millisecond,
			},
		},
	}
	for _, opt := range opts {
		opt(cOpts)
	}

	svc, err := azblob.NewClientWithNoCredential(endpoint+"/?"+tok.Value, cOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &Client{
		endpoint: endpoint,
		token:    tok,
		svc:      svc,
	}, nil
}

// ContainerURL is the unsigned URI of a container. It's safe to log.
func (c *Client) ContainerURL(container string) string {
	return c.endpoint + "/" + url.PathEscape(container)
}

// BlobURL is the unsigned URI of a blob. Slashes in the name are kept as
// virtual directory separators.
func (c *Client) BlobURL(container, name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.ContainerURL(container) + "/" + strings.Join(parts, "/")
}

// SignedBlobURL is BlobURL with the token attached, suitable for handing to
// another HTTP client.
func (c *Client) SignedBlobURL(container, name string) (string, error) {
	return c.token.AppendTo(c.BlobURL(container, name))
}

func (c *Client) Expiry() time.Time {
	return c.token.Expiry
}

// Download copies a blob to localPath, replacing anything already there. A
// partially written file is removed on failure.
func (c *Client) Download(ctx context.Context, container, name, localPath string) (*blob.DownloadMeta, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q: %w", localPath, err)
	}

	n, err := c.svc.DownloadFile(ctx, container, name, f, &azblob.DownloadFileOptions{})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath) // Best-effort
		return nil, fmt.Errorf("failed to download %q: %w", c.BlobURL(container, name), wrapErr(err))
	}

	abs, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %q: %w", localPath, err)
	}

	return &blob.DownloadMeta{
		Container: container,
		Name:      name,
		Path:      abs,
		Size:      n,
	}, nil
}

func (c *Client) Upload(ctx context.Context, container, name string, data []byte) error {
	if _, err := c.svc.UploadBuffer(ctx, container, name, data, &azblob.UploadBufferOptions{}); err != nil {
		return fmt.Errorf("failed to upload %q: %w", c.BlobURL(container, name), wrapErr(err))
	}
	return nil
}

func (c *Client) List(ctx context.Context, container, prefix string) ([]blob.ObjectInfo, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}

	var out []blob.ObjectInfo
	pager := c.svc.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", c.ContainerURL(container), wrapErr(err))
		}
		if resp.Segment == nil {
			continue
		}
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := blob.ObjectInfo{Name: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.LastModified = *p.LastModified
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func wrapErr(err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case bloberror.HasCode(err,
		bloberror.AuthenticationFailed,
		bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch,
		bloberror.AuthorizationProtocolMismatch,
		bloberror.AuthorizationResourceTypeMismatch,
		bloberror.AuthorizationServiceMismatch):
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	default:
		return err
	}
}
