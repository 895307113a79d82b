// Package blob defines domain types for interacting with blob storage.
package blob

import "time"

type DownloadMeta struct {
	Container string
	Name      string
	// Path is the absolute local path the blob was written to.
	Path string
	Size int64
}

type ObjectInfo struct {
	Name         string
	Size         int64
	LastModified time.Time
}

// Credentials are temporary, scoped credentials for a storage provider that
// delegates access via a session rather than a signed query string.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// SignedURL is a single pre-authorized request.
type SignedURL struct {
	Method     string
	URL        string
	Expiration time.Time
}
