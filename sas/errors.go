package sas

import (
	"errors"
	"fmt"
)

// InvalidPolicyError is returned when a policy can't be turned into a token.
// The caller needs to fix the policy, retrying won't help.
type InvalidPolicyError struct {
	Field  string
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid policy %s: %s", e.Field, e.Reason)
}

func IsInvalidPolicy(err error) bool {
	var ipe *InvalidPolicyError
	return errors.As(err, &ipe)
}

// CredentialError is returned when the account credential is empty or
// malformed.
type CredentialError struct {
	Reason string
	err    error
}

func (e *CredentialError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("invalid credential: %s: %v", e.Reason, e.err)
	}
	return "invalid credential: " + e.Reason
}

func (e *CredentialError) Unwrap() error {
	return e.err
}

func IsCredential(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
