package authority

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/x509util"

	"github.com/infisical/cacore/errs"
)

// orgLabel returns the subject organization for certificates issued under
// the hierarchy.
func orgLabel(h ProxyHierarchy) string {
	if org := h.OrgID(); org != "" {
		return org
	}
	return InstanceScopeName
}

// issueProxyServerPKI builds the mutual-TLS server leg of a proxy's
// credentials: a fresh leaf under the scope's server CA plus the client CA
// bundle the proxy uses to validate connecting clients.
func (a *Authority) issueProxyServerPKI(_ context.Context, h ProxyHierarchy, ip string) (PKIServerCredentials, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return PKIServerCredentials{}, errs.BadRequest("invalid proxy IP address %q", ip)
	}

	leafKey, err := keyutil.GenerateDefaultSigner()
	if err != nil {
		a.meter.X509Signed("proxy-server", false)
		return PKIServerCredentials{}, errors.Wrap(err, "error generating leaf key")
	}
	serial, err := newSerial()
	if err != nil {
		a.meter.X509Signed("proxy-server", false)
		return PKIServerCredentials{}, err
	}

	now := time.Now()
	serverCA := h.ProxyServerCA()
	template := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:         ip,
			Organization:       []string{orgLabel(h)},
			OrganizationalUnit: []string{"Proxy"},
		},
		SerialNumber: serial,
		NotBefore:    now,
		NotAfter:     now.Add(a.config.ServerCertTTL),
		IPAddresses:  []net.IP{parsedIP},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leaf, err := x509util.CreateCertificate(template, serverCA.Certificate, leafKey.Public(), serverCA.Signer)
	if err != nil {
		a.meter.X509Signed("proxy-server", false)
		return PKIServerCredentials{}, errors.Wrap(err, "error signing proxy server certificate")
	}
	keyPEM, err := serializeKeyPEM(leafKey)
	if err != nil {
		return PKIServerCredentials{}, err
	}
	a.meter.X509Signed("proxy-server", true)

	return PKIServerCredentials{
		ServerCertificate:      append(encodeCertPEM(leaf), serverCA.BundlePEM()...),
		ServerPrivateKey:       keyPEM,
		ClientCertificateChain: h.ProxyClientCA().BundlePEM(),
	}, nil
}

// IssueProxyClientCredentials issues a short-lived client certificate under
// the scope's client CA for an actor connecting through the given gateway.
func (a *Authority) IssueProxyClientCredentials(ctx context.Context, h ProxyHierarchy, actor Actor, gatewayID string) (*ClientCredentials, error) {
	if actor.Type == "" || actor.ID == "" {
		return nil, errs.BadRequest("actor type and ID are required")
	}

	leafKey, err := keyutil.GenerateDefaultSigner()
	if err != nil {
		a.meter.X509Signed("proxy-client", false)
		return nil, errors.Wrap(err, "error generating leaf key")
	}
	serial, err := newSerial()
	if err != nil {
		a.meter.X509Signed("proxy-client", false)
		return nil, err
	}

	now := time.Now()
	clientCA := h.ProxyClientCA()
	template := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:         actor.Type + ":" + gatewayID,
			Organization:       []string{orgLabel(h)},
			OrganizationalUnit: []string{"proxy-client"},
		},
		SerialNumber: serial,
		NotBefore:    now,
		NotAfter:     now.Add(a.config.ClientCertTTL),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageKeyAgreement,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	leaf, err := x509util.CreateCertificate(template, clientCA.Certificate, leafKey.Public(), clientCA.Signer)
	if err != nil {
		a.meter.X509Signed("proxy-client", false)
		return nil, errors.Wrap(err, "error signing proxy client certificate")
	}
	keyPEM, err := serializeKeyPEM(leafKey)
	if err != nil {
		return nil, err
	}
	a.meter.X509Signed("proxy-client", true)

	return &ClientCredentials{
		ClientCertificate:      encodeCertPEM(leaf),
		ClientPrivateKey:       keyPEM,
		ServerCertificateChain: h.ProxyServerCA().BundlePEM(),
	}, nil
}
