package authority

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/pemutil"
	"go.step.sm/crypto/x509util"
	"golang.org/x/crypto/ssh"

	"github.com/infisical/cacore/db"
	"github.com/infisical/cacore/errs"
	"github.com/infisical/cacore/kms"
)

// Common names of the fixed hierarchy tiers.
const (
	rootCAName           = "Infisical Root CA"
	orgProxyCAName       = "Org Proxy CA"
	instanceProxyCAName  = "Instance Proxy CA"
	instanceClientCAName = "Instance Proxy Client CA"
	instanceServerCAName = "Instance Proxy Server CA"
	orgClientCAName      = "Org Proxy Client CA"
	orgServerCAName      = "Org Proxy Server CA"
)

// GetInstanceHierarchy returns the instance-wide CA hierarchy, building and
// persisting it on first use. It is idempotent and safe under concurrent
// first calls: in-process callers coalesce, and a lost insert race against
// another process is resolved by re-reading the winner's row.
func (a *Authority) GetInstanceHierarchy(ctx context.Context) (*InstanceHierarchy, error) {
	v, err, _ := a.buildGroup.Do("instance", func() (interface{}, error) {
		cipher := rootCipher{a.kms}

		cfg, err := a.db.GetInstanceProxyConfig(ctx)
		if err == nil {
			return a.decryptInstanceConfig(ctx, cfg, cipher)
		}
		if !db.IsErrNotFound(err) {
			return nil, err
		}

		cfg, err = a.buildInstanceConfig(ctx, cipher)
		if err != nil {
			a.meter.HierarchyBuilt("instance", false)
			return nil, err
		}
		if err := a.db.InsertInstanceProxyConfig(ctx, cfg); err != nil {
			if errors.Is(err, db.ErrAlreadyExists) {
				// another process won the race; theirs is authoritative
				if cfg, err = a.db.GetInstanceProxyConfig(ctx); err != nil {
					return nil, err
				}
				return a.decryptInstanceConfig(ctx, cfg, cipher)
			}
			a.meter.HierarchyBuilt("instance", false)
			return nil, err
		}
		a.meter.HierarchyBuilt("instance", true)
		a.logger.Info("instance CA hierarchy created")
		return a.decryptInstanceConfig(ctx, cfg, cipher)
	})
	if err != nil {
		return nil, err
	}
	return v.(*InstanceHierarchy), nil
}

// GetOrgHierarchy returns the CA hierarchy of the given organization,
// building it on first use. The org client and server CAs are signed by the
// instance org-proxy CA, so the instance hierarchy is built first if needed.
func (a *Authority) GetOrgHierarchy(ctx context.Context, orgID string) (*OrgHierarchy, error) {
	if orgID == "" {
		return nil, errs.BadRequest("organization ID is required")
	}
	v, err, _ := a.buildGroup.Do("org/"+orgID, func() (interface{}, error) {
		enc, dec, err := a.kms.CreateCipherPairWithDataKey(ctx, kms.OrgScope(orgID))
		if err != nil {
			return nil, err
		}
		cipher := pairCipher{enc, dec}

		cfg, err := a.db.GetOrgProxyConfig(ctx, orgID)
		if err == nil {
			return a.decryptOrgConfig(ctx, cfg, cipher)
		}
		if !db.IsErrNotFound(err) {
			return nil, err
		}

		instance, err := a.GetInstanceHierarchy(ctx)
		if err != nil {
			return nil, err
		}
		cfg, err = a.buildOrgConfig(ctx, orgID, instance, cipher)
		if err != nil {
			a.meter.HierarchyBuilt("org", false)
			return nil, err
		}
		if err := a.db.InsertOrgProxyConfig(ctx, cfg); err != nil {
			if errors.Is(err, db.ErrAlreadyExists) {
				if cfg, err = a.db.GetOrgProxyConfig(ctx, orgID); err != nil {
					return nil, err
				}
				return a.decryptOrgConfig(ctx, cfg, cipher)
			}
			a.meter.HierarchyBuilt("org", false)
			return nil, err
		}
		a.meter.HierarchyBuilt("org", true)
		a.logger.Info("org CA hierarchy created", "orgId", orgID)
		return a.decryptOrgConfig(ctx, cfg, cipher)
	})
	if err != nil {
		return nil, err
	}
	return v.(*OrgHierarchy), nil
}

// hierarchyFor resolves the hierarchy a proxy's credentials are signed
// under: the org hierarchy when the proxy is org-owned, the instance
// hierarchy otherwise.
func (a *Authority) hierarchyFor(ctx context.Context, p *db.Proxy) (ProxyHierarchy, error) {
	if p.OrgID != "" {
		return a.GetOrgHierarchy(ctx, p.OrgID)
	}
	return a.GetInstanceHierarchy(ctx)
}

// buildInstanceConfig generates the five PKI tiers and the SSH CA pairs of
// the instance hierarchy and encrypts every field for storage.
func (a *Authority) buildInstanceConfig(ctx context.Context, cipher cipher) (*db.InstanceProxyConfig, error) {
	root, err := a.newCA(rootCAName, InstanceScopeName, nil, caProfile{selfSigned: true, validity: a.config.RootValidity})
	if err != nil {
		return nil, errors.Wrap(err, "error generating root CA")
	}
	orgProxy, err := a.newCA(orgProxyCAName, InstanceScopeName, root, caProfile{pathLen: 2, validity: a.config.IntermediateValidity})
	if err != nil {
		return nil, errors.Wrap(err, "error generating org-proxy CA")
	}
	instanceProxy, err := a.newCA(instanceProxyCAName, InstanceScopeName, root, caProfile{pathLen: 1, validity: a.config.IntermediateValidity})
	if err != nil {
		return nil, errors.Wrap(err, "error generating instance-proxy CA")
	}
	clientCA, err := a.newCA(instanceClientCAName, InstanceScopeName, instanceProxy, caProfile{pathLenZero: true, validity: a.config.IntermediateValidity})
	if err != nil {
		return nil, errors.Wrap(err, "error generating instance client CA")
	}
	serverCA, err := a.newCA(instanceServerCAName, InstanceScopeName, instanceProxy, caProfile{pathLenZero: true, validity: a.config.IntermediateValidity})
	if err != nil {
		return nil, errors.Wrap(err, "error generating instance server CA")
	}

	sshServer, err := a.newSSHKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "error generating SSH server CA")
	}
	sshClient, err := a.newSSHKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "error generating SSH client CA")
	}

	cfg := &db.InstanceProxyConfig{
		ID:        db.InstanceProxyConfigID,
		CreatedAt: time.Now().UTC(),
	}
	for _, f := range []struct {
		ca  *CertificateAuthority
		dst *db.EncryptedCA
	}{
		{root, &cfg.RootCA},
		{orgProxy, &cfg.OrgProxyCA},
		{instanceProxy, &cfg.InstanceProxyCA},
		{clientCA, &cfg.InstanceClientCA},
		{serverCA, &cfg.InstanceServerCA},
	} {
		if *f.dst, err = a.encryptCA(ctx, f.ca, cipher); err != nil {
			return nil, err
		}
	}
	if cfg.SSHServerCA, err = a.encryptSSHKeyPair(ctx, sshServer, cipher); err != nil {
		return nil, err
	}
	if cfg.SSHClientCA, err = a.encryptSSHKeyPair(ctx, sshClient, cipher); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildOrgConfig generates an organization's client/server CAs under the
// instance org-proxy CA, plus its SSH CA pairs, encrypted with the org's
// data key.
func (a *Authority) buildOrgConfig(ctx context.Context, orgID string, instance *InstanceHierarchy, cipher cipher) (*db.OrgProxyConfig, error) {
	clientCA, err := a.newCA(orgClientCAName, orgID, instance.OrgProxyCA, caProfile{pathLenZero: true, validity: a.config.IntermediateValidity})
	if err != nil {
		return nil, errors.Wrap(err, "error generating org client CA")
	}
	serverCA, err := a.newCA(orgServerCAName, orgID, instance.OrgProxyCA, caProfile{pathLenZero: true, validity: a.config.IntermediateValidity})
	if err != nil {
		return nil, errors.Wrap(err, "error generating org server CA")
	}
	sshServer, err := a.newSSHKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "error generating org SSH server CA")
	}
	sshClient, err := a.newSSHKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "error generating org SSH client CA")
	}

	cfg := &db.OrgProxyConfig{
		OrgID:     orgID,
		CreatedAt: time.Now().UTC(),
	}
	if cfg.ClientCA, err = a.encryptCA(ctx, clientCA, cipher); err != nil {
		return nil, err
	}
	if cfg.ServerCA, err = a.encryptCA(ctx, serverCA, cipher); err != nil {
		return nil, err
	}
	if cfg.SSHServerCA, err = a.encryptSSHKeyPair(ctx, sshServer, cipher); err != nil {
		return nil, err
	}
	if cfg.SSHClientCA, err = a.encryptSSHKeyPair(ctx, sshClient, cipher); err != nil {
		return nil, err
	}
	return cfg, nil
}

// caProfile captures the shape of one hierarchy tier.
type caProfile struct {
	selfSigned  bool
	pathLen     int
	pathLenZero bool
	validity    time.Duration
}

// newCA generates a key pair and certificate for one tier. Intermediates
// carry digitalSignature and keyEncipherment on top of the CA key usages so
// they can terminate TLS during delegated handshakes.
func (a *Authority) newCA(commonName, org string, parent *CertificateAuthority, profile caProfile) (*CertificateAuthority, error) {
	signer, err := keyutil.GenerateSigner(a.config.KeyType, a.config.Curve, a.config.KeyBits)
	if err != nil {
		return nil, err
	}
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{org}},
		SerialNumber:          serial,
		NotBefore:             now,
		NotAfter:              now.Add(profile.validity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	if !profile.selfSigned {
		template.KeyUsage |= x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
		template.MaxPathLen = profile.pathLen
		template.MaxPathLenZero = profile.pathLenZero
	}

	issuerCert := template
	issuerSigner := signer
	if parent != nil {
		issuerCert = parent.Certificate
		issuerSigner = parent.Signer
	}
	crt, err := x509util.CreateCertificate(template, issuerCert, signer.Public(), issuerSigner)
	if err != nil {
		return nil, err
	}

	var chain []*x509.Certificate
	if parent != nil {
		chain = append([]*x509.Certificate{parent.Certificate}, parent.Chain...)
	}
	return &CertificateAuthority{
		Certificate: crt,
		Signer:      signer,
		Chain:       chain,
	}, nil
}

// newSSHKeyPair generates an SSH CA key pair using the configured key
// algorithm.
func (a *Authority) newSSHKeyPair() (*SSHKeyPair, error) {
	signer, err := keyutil.GenerateSigner(a.config.KeyType, a.config.Curve, a.config.KeyBits)
	if err != nil {
		return nil, err
	}
	sshSigner, err := ssh.NewSignerFromSigner(signer)
	if err != nil {
		return nil, err
	}
	return &SSHKeyPair{
		Signer:    sshSigner,
		PublicKey: sshSigner.PublicKey(),
		Key:       signer,
	}, nil
}

// cipher is the subset of the envelope crypto gateway the hierarchy store
// uses, bound to one scope.
type cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// rootCipher binds the instance root key operations to the cipher shape.
type rootCipher struct {
	svc kms.Service
}

func (c rootCipher) Encrypt(ctx context.Context, pt []byte) ([]byte, error) {
	return c.svc.EncryptWithRootKey(ctx, pt)
}

func (c rootCipher) Decrypt(ctx context.Context, ct []byte) ([]byte, error) {
	return c.svc.DecryptWithRootKey(ctx, ct)
}

// pairCipher binds an org/project data-key cipher pair to the cipher shape.
type pairCipher struct {
	enc kms.Encryptor
	dec kms.Decryptor
}

func (c pairCipher) Encrypt(ctx context.Context, pt []byte) ([]byte, error) {
	return c.enc.Encrypt(ctx, pt)
}

func (c pairCipher) Decrypt(ctx context.Context, ct []byte) ([]byte, error) {
	return c.dec.Decrypt(ctx, ct)
}

func (a *Authority) encryptCA(ctx context.Context, ca *CertificateAuthority, cipher cipher) (db.EncryptedCA, error) {
	keyPEM, err := serializeKeyPEM(ca.Signer)
	if err != nil {
		return db.EncryptedCA{}, err
	}
	encKey, err := cipher.Encrypt(ctx, keyPEM)
	if err != nil {
		return db.EncryptedCA{}, errors.Wrap(err, "error encrypting CA private key")
	}
	encCert, err := cipher.Encrypt(ctx, ca.CertificatePEM())
	if err != nil {
		return db.EncryptedCA{}, errors.Wrap(err, "error encrypting CA certificate")
	}
	out := db.EncryptedCA{Key: encKey, Cert: encCert}
	if chain := ca.ChainPEM(); len(chain) > 0 {
		if out.Chain, err = cipher.Encrypt(ctx, chain); err != nil {
			return db.EncryptedCA{}, errors.Wrap(err, "error encrypting CA chain")
		}
	}
	return out, nil
}

func (a *Authority) decryptCA(ctx context.Context, enc db.EncryptedCA, cipher cipher) (*CertificateAuthority, error) {
	keyPEM, err := cipher.Decrypt(ctx, enc.Key)
	if err != nil {
		return nil, errors.Wrap(err, "error decrypting CA private key")
	}
	signer, err := parseKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	certPEM, err := cipher.Decrypt(ctx, enc.Cert)
	if err != nil {
		return nil, errors.Wrap(err, "error decrypting CA certificate")
	}
	crt, err := pemutil.ParseCertificate(certPEM)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing CA certificate")
	}
	ca := &CertificateAuthority{Certificate: crt, Signer: signer}
	if len(enc.Chain) > 0 {
		chainPEM, err := cipher.Decrypt(ctx, enc.Chain)
		if err != nil {
			return nil, errors.Wrap(err, "error decrypting CA chain")
		}
		if ca.Chain, err = pemutil.ParseCertificateBundle(chainPEM); err != nil {
			return nil, errors.Wrap(err, "error parsing CA chain")
		}
	}
	return ca, nil
}

func (a *Authority) encryptSSHKeyPair(ctx context.Context, kp *SSHKeyPair, cipher cipher) (db.EncryptedKeyPair, error) {
	keyPEM, err := serializeKeyPEM(kp.Key)
	if err != nil {
		return db.EncryptedKeyPair{}, err
	}
	encKey, err := cipher.Encrypt(ctx, keyPEM)
	if err != nil {
		return db.EncryptedKeyPair{}, errors.Wrap(err, "error encrypting SSH CA private key")
	}
	encPub, err := cipher.Encrypt(ctx, kp.PublicKeyAuthorizedFormat())
	if err != nil {
		return db.EncryptedKeyPair{}, errors.Wrap(err, "error encrypting SSH CA public key")
	}
	return db.EncryptedKeyPair{PrivateKey: encKey, PublicKey: encPub}, nil
}

func (a *Authority) decryptSSHKeyPair(ctx context.Context, enc db.EncryptedKeyPair, cipher cipher) (*SSHKeyPair, error) {
	keyPEM, err := cipher.Decrypt(ctx, enc.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "error decrypting SSH CA private key")
	}
	signer, err := parseKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	sshSigner, err := ssh.NewSignerFromSigner(signer)
	if err != nil {
		return nil, err
	}
	return &SSHKeyPair{Signer: sshSigner, PublicKey: sshSigner.PublicKey(), Key: signer}, nil
}

func (a *Authority) decryptInstanceConfig(ctx context.Context, cfg *db.InstanceProxyConfig, cipher cipher) (*InstanceHierarchy, error) {
	h := new(InstanceHierarchy)
	var err error
	if h.Root, err = a.decryptCA(ctx, cfg.RootCA, cipher); err != nil {
		return nil, err
	}
	if h.OrgProxyCA, err = a.decryptCA(ctx, cfg.OrgProxyCA, cipher); err != nil {
		return nil, err
	}
	if h.InstanceProxyCA, err = a.decryptCA(ctx, cfg.InstanceProxyCA, cipher); err != nil {
		return nil, err
	}
	if h.ClientCA, err = a.decryptCA(ctx, cfg.InstanceClientCA, cipher); err != nil {
		return nil, err
	}
	if h.ServerCA, err = a.decryptCA(ctx, cfg.InstanceServerCA, cipher); err != nil {
		return nil, err
	}
	if h.SSHServer, err = a.decryptSSHKeyPair(ctx, cfg.SSHServerCA, cipher); err != nil {
		return nil, err
	}
	if h.SSHClient, err = a.decryptSSHKeyPair(ctx, cfg.SSHClientCA, cipher); err != nil {
		return nil, err
	}
	return h, nil
}

func (a *Authority) decryptOrgConfig(ctx context.Context, cfg *db.OrgProxyConfig, cipher cipher) (*OrgHierarchy, error) {
	h := &OrgHierarchy{Org: cfg.OrgID}
	var err error
	if h.ClientCA, err = a.decryptCA(ctx, cfg.ClientCA, cipher); err != nil {
		return nil, err
	}
	if h.ServerCA, err = a.decryptCA(ctx, cfg.ServerCA, cipher); err != nil {
		return nil, err
	}
	if h.SSHServer, err = a.decryptSSHKeyPair(ctx, cfg.SSHServerCA, cipher); err != nil {
		return nil, err
	}
	if h.SSHClient, err = a.decryptSSHKeyPair(ctx, cfg.SSHClientCA, cipher); err != nil {
		return nil, err
	}
	return h, nil
}

// newSerial returns a cryptographically random positive serial number.
func newSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 159)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, errors.Wrap(err, "error generating serial number")
	}
	return serial, nil
}

func serializeKeyPEM(signer crypto.Signer) ([]byte, error) {
	block, err := pemutil.Serialize(signer, pemutil.WithPKCS8(true))
	if err != nil {
		return nil, errors.Wrap(err, "error serializing private key")
	}
	return pem.EncodeToMemory(block), nil
}

func parseKeyPEM(b []byte) (crypto.Signer, error) {
	key, err := pemutil.Parse(b)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing private key")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.Errorf("private key of type %T cannot sign", key)
	}
	return signer, nil
}
