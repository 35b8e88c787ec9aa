package authority

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"

	"golang.org/x/crypto/ssh"
)

// InstanceScopeName is the organization label used for instance-scoped
// certificates.
const InstanceScopeName = "default"

// CertificateAuthority is one decrypted tier of a proxy CA hierarchy. Chain
// holds every ancestor certificate, issuer first, ending at the root; it is
// empty for the root itself.
type CertificateAuthority struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
	Chain       []*x509.Certificate
}

// CertificatePEM returns the CA certificate PEM-encoded.
func (ca *CertificateAuthority) CertificatePEM() []byte {
	return encodeCertPEM(ca.Certificate)
}

// ChainPEM returns the PEM concatenation of the CA's ancestors, issuer
// first, ending at the root.
func (ca *CertificateAuthority) ChainPEM() []byte {
	var out []byte
	for _, crt := range ca.Chain {
		out = append(out, encodeCertPEM(crt)...)
	}
	return out
}

// BundlePEM returns the CA certificate followed by its chain, the form
// handed to peers that must validate leaves signed by this CA.
func (ca *CertificateAuthority) BundlePEM() []byte {
	return append(ca.CertificatePEM(), ca.ChainPEM()...)
}

// SSHKeyPair is a decrypted SSH CA key pair. Key holds the raw signer the
// SSH signer wraps so the pair can be serialized back to PEM.
type SSHKeyPair struct {
	Signer    ssh.Signer
	PublicKey ssh.PublicKey
	Key       crypto.Signer
}

// PublicKeyAuthorizedFormat returns the CA public key in authorized_keys
// format.
func (kp *SSHKeyPair) PublicKeyAuthorizedFormat() []byte {
	return ssh.MarshalAuthorizedKey(kp.PublicKey)
}

// ProxyHierarchy is the part of a hierarchy the credential issuer needs,
// implemented by both the instance and the organization hierarchies.
type ProxyHierarchy interface {
	// ProxyServerCA signs proxy server leaf certificates.
	ProxyServerCA() *CertificateAuthority
	// ProxyClientCA signs proxy client leaf certificates.
	ProxyClientCA() *CertificateAuthority
	// SSHServerCA signs SSH host certificates presented by proxies.
	SSHServerCA() *SSHKeyPair
	// SSHClientCA signs SSH user certificates presented by gateways.
	SSHClientCA() *SSHKeyPair
	// OrgID returns the owning organization, or "" for the instance scope.
	OrgID() string
}

// InstanceHierarchy is the decrypted instance-wide CA hierarchy.
type InstanceHierarchy struct {
	Root            *CertificateAuthority
	OrgProxyCA      *CertificateAuthority
	InstanceProxyCA *CertificateAuthority
	ClientCA        *CertificateAuthority
	ServerCA        *CertificateAuthority
	SSHServer       *SSHKeyPair
	SSHClient       *SSHKeyPair
}

// ProxyServerCA implements ProxyHierarchy.
func (h *InstanceHierarchy) ProxyServerCA() *CertificateAuthority { return h.ServerCA }

// ProxyClientCA implements ProxyHierarchy.
func (h *InstanceHierarchy) ProxyClientCA() *CertificateAuthority { return h.ClientCA }

// SSHServerCA implements ProxyHierarchy.
func (h *InstanceHierarchy) SSHServerCA() *SSHKeyPair { return h.SSHServer }

// SSHClientCA implements ProxyHierarchy.
func (h *InstanceHierarchy) SSHClientCA() *SSHKeyPair { return h.SSHClient }

// OrgID implements ProxyHierarchy.
func (h *InstanceHierarchy) OrgID() string { return "" }

// OrgHierarchy is one organization's decrypted CA hierarchy. Its client and
// server CAs chain through the instance org-proxy CA to the root.
type OrgHierarchy struct {
	Org       string
	ClientCA  *CertificateAuthority
	ServerCA  *CertificateAuthority
	SSHServer *SSHKeyPair
	SSHClient *SSHKeyPair
}

// ProxyServerCA implements ProxyHierarchy.
func (h *OrgHierarchy) ProxyServerCA() *CertificateAuthority { return h.ServerCA }

// ProxyClientCA implements ProxyHierarchy.
func (h *OrgHierarchy) ProxyClientCA() *CertificateAuthority { return h.ClientCA }

// SSHServerCA implements ProxyHierarchy.
func (h *OrgHierarchy) SSHServerCA() *SSHKeyPair { return h.SSHServer }

// SSHClientCA implements ProxyHierarchy.
func (h *OrgHierarchy) SSHClientCA() *SSHKeyPair { return h.SSHClient }

// OrgID implements ProxyHierarchy.
func (h *OrgHierarchy) OrgID() string { return h.Org }

// PKIServerCredentials is the mutual-TLS material issued to a proxy server.
type PKIServerCredentials struct {
	ServerCertificate      []byte
	ServerPrivateKey       []byte
	ClientCertificateChain []byte
}

// SSHServerCredentials is the SSH host material issued to a proxy server.
type SSHServerCredentials struct {
	ServerCertificate []byte
	ServerPrivateKey  []byte
	ClientCAPublicKey []byte
}

// ServerCredentials bundles everything a registering proxy receives.
type ServerCredentials struct {
	PKI PKIServerCredentials
	SSH SSHServerCredentials
}

// ClientCredentials is the short-lived mutual-TLS material issued to a
// proxy client.
type ClientCredentials struct {
	ClientCertificate      []byte
	ClientPrivateKey       []byte
	ServerCertificateChain []byte
}

// GatewayCredentials is the short-lived SSH material issued to a gateway
// connecting to a proxy.
type GatewayCredentials struct {
	SSHCertificate    []byte
	SSHPrivateKey     []byte
	ServerCAPublicKey []byte
}

// Actor identifies who is requesting credentials.
type Actor struct {
	Type string
	ID   string
}

func encodeCertPEM(crt *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: crt.Raw})
}
