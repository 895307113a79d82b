// Package awsblob maps delegation policies onto S3, which has no account SAS.
// The same sas.Policy becomes either a set of presigned URLs or temporary STS
// credentials scoped by an inline IAM policy.
package awsblob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/bcspragu/blobsas/blob"
	"github.com/bcspragu/blobsas/sas"
)

const (
	// SigV4 presigned URLs can't outlive a week.
	maxPresignLifetime = 7 * 24 * time.Hour
	// STS won't issue a session shorter than this.
	minSessionDuration = 15 * time.Minute
)

type Client struct {
	sess *session.Session
	s3   *s3.S3

	bkt     string
	roleARN string
}

// New creates a client for bkt. creds may be nil to use the default provider
// chain. roleARN is only needed for GenerateTempCreds.
func New(bkt, region string, creds *credentials.Credentials, roleARN string) (*Client, error) {
	cfg := &aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	if creds != nil {
		cfg.Credentials = creds
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with AWS: %w", err)
	}

	return &Client{
		bkt:     bkt,
		roleARN: roleARN,

		sess: sess,
		s3:   s3.New(sess),
	}, nil
}

func (c *Client) Bucket() string {
	return c.bkt
}

// objectMethods lists the HTTP verbs p allows on a single object.
func objectMethods(p sas.Policy) []string {
	var out []string
	if p.Permissions.Has(sas.Read) {
		out = append(out, http.MethodGet)
	}
	if p.Permissions&(sas.Write|sas.Create|sas.Add) != 0 {
		out = append(out, http.MethodPut)
	}
	if p.Permissions.Has(sas.Delete) {
		out = append(out, http.MethodDelete)
	}
	return out
}

// checkService rejects policies that don't grant anything on the blob
// service, which is the only one S3 stands in for.
func checkService(p sas.Policy) error {
	if !p.Services.Has(sas.Blob) {
		return &sas.InvalidPolicyError{Field: "services", Reason: "S3 only supports the blob service"}
	}
	return nil
}

// PresignPolicy returns one presigned URL per object operation p permits on
// key, each valid until p.Expiry.
func (c *Client) PresignPolicy(key string, p sas.Policy, now time.Time) ([]*blob.SignedURL, error) {
	if err := p.Validate(now); err != nil {
		return nil, err
	}
	if err := checkService(p); err != nil {
		return nil, err
	}
	if !p.ResourceTypes.Has(sas.Object) {
		return nil, &sas.InvalidPolicyError{Field: "resource_types", Reason: "presigned URLs only apply to objects"}
	}
	dur := p.Expiry.Sub(now)
	if dur > maxPresignLifetime {
		return nil, &sas.InvalidPolicyError{Field: "expiry", Reason: fmt.Sprintf("presigned URLs can't be valid for more than %s", maxPresignLifetime)}
	}
	methods := objectMethods(p)
	if len(methods) == 0 {
		return nil, &sas.InvalidPolicyError{Field: "permissions", Reason: "no object-level permissions granted"}
	}

	var out []*blob.SignedURL
	for _, m := range methods {
		var req *request.Request
		switch m {
		case http.MethodGet:
			req, _ = c.s3.GetObjectRequest(&s3.GetObjectInput{
				Bucket: aws.String(c.bkt),
				Key:    aws.String(key),
			})
		case http.MethodPut:
			req, _ = c.s3.PutObjectRequest(&s3.PutObjectInput{
				Bucket: aws.String(c.bkt),
				Key:    aws.String(key),
			})
		case http.MethodDelete:
			req, _ = c.s3.DeleteObjectRequest(&s3.DeleteObjectInput{
				Bucket: aws.String(c.bkt),
				Key:    aws.String(key),
			})
		}
		urlStr, err := req.Presign(dur)
		if err != nil {
			return nil, fmt.Errorf("failed to pre-sign %s for S3 object %q: %w", m, key, err)
		}
		if p.Protocol == sas.HTTPSOnly && !strings.HasPrefix(urlStr, "https://") {
			return nil, &sas.InvalidPolicyError{Field: "protocol", Reason: "policy requires HTTPS but the S3 endpoint isn't"}
		}
		out = append(out, &blob.SignedURL{
			Method:     m,
			URL:        urlStr,
			Expiration: p.Expiry,
		})
	}
	return out, nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string         `json:"Effect"`
	Action    []string       `json:"Action"`
	Resource  string         `json:"Resource"`
	Condition map[string]any `json:"Condition,omitempty"`
}

// iamPolicy renders p as an inline session policy limited to objects under
// prefix.
func (c *Client) iamPolicy(prefix string, p sas.Policy) (string, error) {
	if err := checkService(p); err != nil {
		return "", err
	}

	// Any statement we emit is limited to TLS when the policy asks for it.
	conditions := func() map[string]any {
		out := make(map[string]any)
		if p.Protocol == sas.HTTPSOnly {
			out["Bool"] = map[string]any{"aws:SecureTransport": "true"}
		}
		return out
	}

	var objActions []string
	if p.ResourceTypes.Has(sas.Object) {
		for _, m := range objectMethods(p) {
			switch m {
			case http.MethodGet:
				objActions = append(objActions, "s3:GetObject")
			case http.MethodPut:
				objActions = append(objActions, "s3:PutObject")
			case http.MethodDelete:
				objActions = append(objActions, "s3:DeleteObject")
			}
		}
	}

	doc := policyDocument{Version: "2012-10-17"}
	if len(objActions) > 0 {
		stmt := policyStatement{
			Effect:   "Allow",
			Action:   objActions,
			Resource: fmt.Sprintf("arn:aws:s3:::%s/*", path.Join(c.bkt, prefix)),
		}
		if cond := conditions(); len(cond) > 0 {
			stmt.Condition = cond
		}
		doc.Statement = append(doc.Statement, stmt)
	}
	if p.Permissions.Has(sas.List) && p.ResourceTypes.Has(sas.Container) {
		cond := conditions()
		cond["StringLike"] = map[string]any{
			"s3:prefix": []string{path.Join(prefix, "*")},
		}
		doc.Statement = append(doc.Statement, policyStatement{
			Effect:    "Allow",
			Action:    []string{"s3:ListBucket"},
			Resource:  "arn:aws:s3:::" + c.bkt,
			Condition: cond,
		})
	}
	if len(doc.Statement) == 0 {
		return "", &sas.InvalidPolicyError{Field: "permissions", Reason: "policy grants nothing S3 can express"}
	}

	dat, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal IAM policy: %w", err)
	}
	return string(dat), nil
}

// GenerateTempCreds assumes the configured role with a session policy derived
// from p. STS sessions have a floor of 15 minutes, so the returned expiration
// can be later than p.Expiry.
func (c *Client) GenerateTempCreds(ctx context.Context, prefix string, p sas.Policy) (*blob.Credentials, error) {
	now := time.Now()
	if err := p.Validate(now); err != nil {
		return nil, err
	}
	if c.roleARN == "" {
		return nil, fmt.Errorf("no role ARN configured for bucket %q", c.bkt)
	}
	policyDoc, err := c.iamPolicy(prefix, p)
	if err != nil {
		return nil, err
	}

	dur := p.Expiry.Sub(now)
	if dur < minSessionDuration {
		dur = minSessionDuration
	}

	creds := stscreds.NewCredentials(c.sess, c.roleARN, func(sc *stscreds.AssumeRoleProvider) {
		sc.Duration = dur
		sc.Policy = aws.String(policyDoc)
	})
	tmpCreds, err := creds.GetWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	exp, err := creds.ExpiresAt()
	if err != nil {
		return nil, fmt.Errorf("failed to get credential expiration: %w", err)
	}

	return &blob.Credentials{
		AccessKeyID:     tmpCreds.AccessKeyID,
		SecretAccessKey: tmpCreds.SecretAccessKey,
		SessionToken:    tmpCreds.SessionToken,
		Expiration:      exp,
	}, nil
}
