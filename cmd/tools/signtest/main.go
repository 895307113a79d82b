// Command signtest is a quick tool for testing the generation and use of
// presigned S3 upload URLs derived from a delegation policy.
//
// Usage:
//
//	signtest <access key> <secret key> <session token> <bucket> <prefix> <file>
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/bcspragu/blobsas/blob/awsblob"
	"github.com/bcspragu/blobsas/sas"
)

func main() {
	if len(os.Args) != 7 {
		fmt.Fprintln(os.Stderr, "usage: signtest <access key> <secret key> <session token> <bucket> <prefix> <file>")
		os.Exit(2)
	}
	accessKey := os.Args[1]
	secretKey := os.Args[2]
	sessionToken := os.Args[3]
	bucket := os.Args[4]
	prefix := os.Args[5]
	file := os.Args[6]

	client, err := awsblob.New(bucket, "us-west-2", credentials.NewStaticCredentials(accessKey, secretKey, sessionToken), "")
	if err != nil {
		log.Fatalf("failed to init client from static creds: %v", err)
	}

	f, err := os.Open(file)
	if err != nil {
		log.Fatalf("failed to open named file: %v", err)
	}
	defer f.Close() // Best-effort

	fi, err := f.Stat()
	if err != nil {
		log.Fatalf("failed to stat file: %v", err)
	}

	key := path.Join(prefix, filepath.Base(file))
	fmt.Printf("Signing URL for s3://%s/%s\n", client.Bucket(), key)

	now := time.Now()
	urls, err := client.PresignPolicy(key, sas.Policy{
		Permissions:   sas.Create,
		ResourceTypes: sas.Object,
		Services:      sas.Blob,
		Protocol:      sas.HTTPSOnly,
		Expiry:        now.Add(5 * time.Minute),
	}, now)
	if err != nil {
		log.Fatalf("failed to presign upload URL: %v", err)
	}
	// A create-only policy maps to exactly one PUT.
	upload := urls[0]

	httpReq, err := http.NewRequest(upload.Method, upload.URL, f)
	if err != nil {
		log.Fatalf("failed to format request: %v", err)
	}
	httpReq.ContentLength = fi.Size()

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		log.Fatalf("failed to upload file: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("unexpected status code %d", resp.StatusCode)
		dat, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Fatalf("failed to read response body: %v", err)
		}
		log.Fatalf("Error body: \n%s\n", string(dat))
	}

	fmt.Println("Uploaded successfully!")
}
