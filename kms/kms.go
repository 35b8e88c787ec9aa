// Package kms implements the envelope-encryption service used to protect
// private keys and certificate material at rest. Plaintext only ever exists
// in memory; every persisted field goes through this package first.
package kms

import (
	"context"

	"github.com/pkg/errors"
)

// Encryptor encrypts opaque binary blobs under a scoped data key.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
}

// Decryptor decrypts blobs previously produced by the matching Encryptor.
type Decryptor interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Service is the envelope crypto gateway. Ciphertext produced under one
// scope never decrypts under another.
type Service interface {
	// EncryptWithRootKey encrypts plaintext under the instance root key.
	EncryptWithRootKey(ctx context.Context, plaintext []byte) ([]byte, error)

	// DecryptWithRootKey decrypts ciphertext produced by EncryptWithRootKey.
	DecryptWithRootKey(ctx context.Context, ciphertext []byte) ([]byte, error)

	// CreateCipherPairWithDataKey returns an encryptor/decryptor pair bound
	// to the data key of the given org or project scope.
	CreateCipherPairWithDataKey(ctx context.Context, scope Scope) (Encryptor, Decryptor, error)
}

// Scope identifies the tenant boundary a data key is bound to. Exactly one
// of OrgID or ProjectID must be set.
type Scope struct {
	OrgID     string
	ProjectID string
}

// OrgScope returns a Scope bound to the given organization.
func OrgScope(orgID string) Scope {
	return Scope{OrgID: orgID}
}

// ProjectScope returns a Scope bound to the given project.
func ProjectScope(projectID string) Scope {
	return Scope{ProjectID: projectID}
}

// ID returns the canonical identifier the scope's data key is derived under.
func (s Scope) ID() (string, error) {
	switch {
	case s.OrgID != "" && s.ProjectID != "":
		return "", errors.New("kms scope must not set both orgId and projectId")
	case s.OrgID != "":
		return "org/" + s.OrgID, nil
	case s.ProjectID != "":
		return "project/" + s.ProjectID, nil
	default:
		return "", errors.New("kms scope requires an orgId or projectId")
	}
}
