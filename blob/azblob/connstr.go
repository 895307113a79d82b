package azblob

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bcspragu/blobsas/sas"
)

const (
	emulatorAccount      = "devstoreaccount1"
	emulatorAccountKey   = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	emulatorBlobEndpoint = "http://127.0.0.1:10000/devstoreaccount1"

	defaultEndpointSuffix = "core.windows.net"
)

// Account is a storage account as described by a connection string.
type Account struct {
	Name string
	// Key is the base64 account key, exactly as it appears in the portal.
	Key          string
	BlobEndpoint string
}

func (a *Account) Credential() (sas.Credential, error) {
	return sas.NewSharedKeyCredential(a.Name, a.Key)
}

// ParseConnectionString reads the semicolon-separated key=value format the
// storage service hands out, e.g.
//
//	DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=...;EndpointSuffix=core.windows.net
func ParseConnectionString(connStr string) (*Account, error) {
	vals := make(map[string]string)
	for _, part := range strings.Split(connStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// Account keys are base64 and may end in '=', so only split on the
		// first one.
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed connection string segment %q", k)
		}
		vals[strings.ToLower(k)] = v
	}

	if strings.EqualFold(vals["usedevelopmentstorage"], "true") {
		endpoint := emulatorBlobEndpoint
		if proxy := vals["developmentstorageproxyuri"]; proxy != "" {
			endpoint = strings.TrimSuffix(proxy, "/") + "/" + emulatorAccount
		}
		return &Account{
			Name:         emulatorAccount,
			Key:          emulatorAccountKey,
			BlobEndpoint: endpoint,
		}, nil
	}

	acct := &Account{
		Name:         vals["accountname"],
		Key:          vals["accountkey"],
		BlobEndpoint: strings.TrimSuffix(vals["blobendpoint"], "/"),
	}
	if acct.Name == "" {
		return nil, errors.New("connection string has no AccountName")
	}
	if acct.Key == "" {
		return nil, errors.New("connection string has no AccountKey")
	}
	if acct.BlobEndpoint == "" {
		proto := vals["defaultendpointsprotocol"]
		if proto == "" {
			proto = "https"
		}
		suffix := vals["endpointsuffix"]
		if suffix == "" {
			suffix = defaultEndpointSuffix
		}
		acct.BlobEndpoint = DefaultEndpoint(proto, acct.Name, suffix)
	}
	return acct, nil
}

func DefaultEndpoint(proto, account, suffix string) string {
	return fmt.Sprintf("%s://%s.blob.%s", proto, account, suffix)
}
