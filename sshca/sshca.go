// Package sshca implements a single-tier SSH certificate authority whose
// private keys live encrypted under a project's data key.
package sshca

import (
	"context"
	"crypto"
	"encoding/pem"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/pemutil"
	"go.step.sm/crypto/sshutil"
	"golang.org/x/crypto/ssh"

	"github.com/infisical/cacore/db"
	"github.com/infisical/cacore/errs"
	"github.com/infisical/cacore/kms"
	"github.com/infisical/cacore/logging"
)

// Key algorithms supported for CA and leaf keys.
const (
	KeyAlgorithmRSA2048   = "RSA_2048"
	KeyAlgorithmECDSAP256 = "ECDSA_P256"
	KeyAlgorithmED25519   = "ED25519"
)

// Manager creates SSH certificate authorities and signs certificates with
// them under template constraints.
type Manager struct {
	db     db.DB
	kms    kms.Service
	logger *logging.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New returns a Manager backed by the given store and envelope crypto
// service.
func New(store db.DB, kmsSvc kms.Service, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("sshca manager requires a database")
	}
	if kmsSvc == nil {
		return nil, errors.New("sshca manager requires a kms service")
	}
	m := &Manager{
		db:     store,
		kms:    kmsSvc,
		logger: logging.Nop(),
	}
	for _, fn := range opts {
		fn(m)
	}
	return m, nil
}

// CreateCARequest is the input to CreateCA.
type CreateCARequest struct {
	ProjectID    string
	FriendlyName string
	KeyAlgorithm string
}

// CreateCA generates a CA key pair, encrypts the private key under the
// project's data key and persists the CA and its secret. The secret is
// written exactly once.
func (m *Manager) CreateCA(ctx context.Context, req CreateCARequest) (*db.SSHCertificateAuthority, error) {
	if req.ProjectID == "" {
		return nil, errs.BadRequest("project ID is required")
	}
	if req.KeyAlgorithm == "" {
		req.KeyAlgorithm = KeyAlgorithmRSA2048
	}
	signer, err := newSigner(req.KeyAlgorithm)
	if err != nil {
		return nil, err
	}
	keyPEM, err := serializeKey(signer)
	if err != nil {
		return nil, err
	}
	enc, _, err := m.kms.CreateCipherPairWithDataKey(ctx, kms.ProjectScope(req.ProjectID))
	if err != nil {
		return nil, err
	}
	encKey, err := enc.Encrypt(ctx, keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "error encrypting CA private key")
	}

	ca := &db.SSHCertificateAuthority{
		ID:           xid.New().String(),
		ProjectID:    req.ProjectID,
		FriendlyName: req.FriendlyName,
		KeyAlgorithm: req.KeyAlgorithm,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.db.InsertSSHCA(ctx, ca); err != nil {
		return nil, err
	}
	if err := m.db.InsertSSHCASecret(ctx, &db.SSHCertificateAuthoritySecret{
		CAID:                ca.ID,
		EncryptedPrivateKey: encKey,
	}); err != nil {
		return nil, err
	}
	m.logger.Info("SSH CA created", "caId", ca.ID, "projectId", ca.ProjectID)
	return ca, nil
}

// GetCAPublicKey returns the CA public key in authorized_keys format, the
// form installed in TrustedUserCAKeys or known_hosts.
func (m *Manager) GetCAPublicKey(ctx context.Context, caID string) ([]byte, error) {
	_, sshSigner, err := m.caSigner(ctx, caID)
	if err != nil {
		return nil, err
	}
	return ssh.MarshalAuthorizedKey(sshSigner.PublicKey()), nil
}

// SignSSHKeyRequest asks the CA to sign an externally supplied public key.
type SignSSHKeyRequest struct {
	CAID       string
	PublicKey  []byte
	CertType   string
	Principals []string
	KeyID      string
	TTL        string
	Template   *Template

	// HostID links the certificate row to a registered host, when issued
	// on behalf of one.
	HostID string
}

// Credential is an issued SSH certificate, plus its private key when the
// manager generated the key pair.
type Credential struct {
	Certificate []byte
	PrivateKey  []byte
	KeyID       string
	Serial      uint64
	NotBefore   time.Time
	NotAfter    time.Time
}

// SignSSHKey validates the request against the template, signs the
// requested certificate and persists it encrypted. Only the TTL is ever
// clamped; every other constraint violation is rejected.
func (m *Manager) SignSSHKey(ctx context.Context, req SignSSHKeyRequest) (*Credential, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(req.PublicKey)
	if err != nil {
		return nil, errs.BadRequest("invalid SSH public key: %v", err)
	}
	return m.sign(ctx, req, pub, nil)
}

// IssueSSHCredsRequest asks the CA for a fresh key pair plus certificate.
type IssueSSHCredsRequest struct {
	CAID         string
	KeyAlgorithm string
	CertType     string
	Principals   []string
	KeyID        string
	TTL          string
	Template     *Template
	HostID       string
}

// IssueSSHCreds generates a key pair and signs it in one step.
func (m *Manager) IssueSSHCreds(ctx context.Context, req IssueSSHCredsRequest) (*Credential, error) {
	if req.KeyAlgorithm == "" {
		req.KeyAlgorithm = KeyAlgorithmECDSAP256
	}
	leafKey, err := newSigner(req.KeyAlgorithm)
	if err != nil {
		return nil, err
	}
	pub, err := ssh.NewPublicKey(leafKey.Public())
	if err != nil {
		return nil, errors.Wrap(err, "error converting SSH public key")
	}
	cred, err := m.sign(ctx, SignSSHKeyRequest{
		CAID:       req.CAID,
		CertType:   req.CertType,
		Principals: req.Principals,
		KeyID:      req.KeyID,
		TTL:        req.TTL,
		Template:   req.Template,
		HostID:     req.HostID,
	}, pub, leafKey)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (m *Manager) sign(ctx context.Context, req SignSSHKeyRequest, pub ssh.PublicKey, leafKey crypto.Signer) (*Credential, error) {
	ca, err := m.db.GetSSHCA(ctx, req.CAID)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, errs.NotFound("SSH CA with ID %q not found", req.CAID)
		}
		return nil, err
	}

	tmpl := req.Template
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	ttl, err := tmpl.validate(req.CertType, req.Principals, req.KeyID, req.TTL)
	if err != nil {
		return nil, err
	}

	keyID := req.KeyID
	if keyID == "" {
		keyID = req.CertType + "-" + xid.New().String()
	}

	_, sshSigner, err := m.caSigner(ctx, ca.ID)
	if err != nil {
		return nil, err
	}

	certType := uint32(ssh.UserCert)
	if req.CertType == CertTypeHost {
		certType = ssh.HostCert
	}
	now := time.Now()
	cert := &ssh.Certificate{
		Key:             pub,
		KeyId:           keyID,
		CertType:        certType,
		ValidPrincipals: req.Principals,
		ValidAfter:      uint64(now.Unix()),
		ValidBefore:     uint64(now.Add(ttl).Unix()),
	}
	signed, err := sshutil.CreateCertificate(cert, sshSigner)
	if err != nil {
		return nil, errors.Wrap(err, "error signing SSH certificate")
	}
	certBytes := ssh.MarshalAuthorizedKey(signed)

	enc, _, err := m.kms.CreateCipherPairWithDataKey(ctx, kms.ProjectScope(ca.ProjectID))
	if err != nil {
		return nil, err
	}
	encCert, err := enc.Encrypt(ctx, certBytes)
	if err != nil {
		return nil, errors.Wrap(err, "error encrypting signed certificate")
	}

	row := &db.SSHCertificate{
		ID:         uuid.NewString(),
		CAID:       ca.ID,
		HostID:     req.HostID,
		KeyID:      keyID,
		Serial:     signed.Serial,
		CertType:   req.CertType,
		Principals: req.Principals,
		NotBefore:  now.UTC(),
		NotAfter:   now.Add(ttl).UTC(),
	}
	if err := m.db.InsertSSHCertificate(ctx, row, &db.SSHCertificateBody{
		CertificateID:        row.ID,
		EncryptedCertificate: encCert,
	}); err != nil {
		return nil, err
	}

	cred := &Credential{
		Certificate: certBytes,
		KeyID:       keyID,
		Serial:      signed.Serial,
		NotBefore:   row.NotBefore,
		NotAfter:    row.NotAfter,
	}
	if leafKey != nil {
		if cred.PrivateKey, err = serializeKey(leafKey); err != nil {
			return nil, err
		}
	}
	return cred, nil
}

// caSigner loads and decrypts the CA private key. Decrypted key material
// only lives for the duration of one signing call.
func (m *Manager) caSigner(ctx context.Context, caID string) (*db.SSHCertificateAuthority, ssh.Signer, error) {
	ca, err := m.db.GetSSHCA(ctx, caID)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, nil, errs.NotFound("SSH CA with ID %q not found", caID)
		}
		return nil, nil, err
	}
	secret, err := m.db.GetSSHCASecret(ctx, caID)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, nil, errs.NotFound("secret for SSH CA %q not found", caID)
		}
		return nil, nil, err
	}
	_, dec, err := m.kms.CreateCipherPairWithDataKey(ctx, kms.ProjectScope(ca.ProjectID))
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := dec.Decrypt(ctx, secret.EncryptedPrivateKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error decrypting CA private key")
	}
	key, err := pemutil.Parse(keyPEM)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error parsing CA private key")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, errors.Errorf("CA key of type %T cannot sign", key)
	}
	sshSigner, err := ssh.NewSignerFromSigner(signer)
	if err != nil {
		return nil, nil, err
	}
	return ca, sshSigner, nil
}

func newSigner(algorithm string) (crypto.Signer, error) {
	switch algorithm {
	case KeyAlgorithmRSA2048:
		return keyutil.GenerateSigner("RSA", "", 2048)
	case KeyAlgorithmECDSAP256:
		return keyutil.GenerateSigner("EC", "P-256", 0)
	case KeyAlgorithmED25519:
		return keyutil.GenerateSigner("OKP", "Ed25519", 0)
	default:
		return nil, errs.BadRequest("unsupported key algorithm %q", algorithm)
	}
}

func serializeKey(signer crypto.Signer) ([]byte, error) {
	block, err := pemutil.Serialize(signer, pemutil.WithPKCS8(true))
	if err != nil {
		return nil, errors.Wrap(err, "error serializing private key")
	}
	return pem.EncodeToMemory(block), nil
}
