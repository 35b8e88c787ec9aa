package authority

import (
	"context"
	"crypto"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/sshutil"
	"golang.org/x/crypto/ssh"
)

// issueProxySSHServer builds the SSH leg of a proxy's server credentials: a
// fresh host certificate signed by the scope's SSH server CA, plus the SSH
// client CA public key the proxy trusts for incoming user certificates.
func (a *Authority) issueProxySSHServer(_ context.Context, h ProxyHierarchy, ip string) (SSHServerCredentials, error) {
	principal := ip + ":" + strconv.Itoa(a.config.SSHProxyPort)

	key, sshPub, err := a.newLeafSSHKey()
	if err != nil {
		a.meter.SSHSigned("host", false)
		return SSHServerCredentials{}, err
	}

	now := time.Now()
	cert := &ssh.Certificate{
		Key:             sshPub,
		KeyId:           principal,
		CertType:        ssh.HostCert,
		ValidPrincipals: []string{principal},
		ValidAfter:      uint64(now.Unix()),
		ValidBefore:     uint64(now.Add(a.config.SSHHostCertTTL).Unix()),
	}
	signed, err := sshutil.CreateCertificate(cert, h.SSHServerCA().Signer)
	if err != nil {
		a.meter.SSHSigned("host", false)
		return SSHServerCredentials{}, errors.Wrap(err, "error signing proxy SSH host certificate")
	}
	keyPEM, err := serializeKeyPEM(key)
	if err != nil {
		return SSHServerCredentials{}, err
	}
	a.meter.SSHSigned("host", true)

	return SSHServerCredentials{
		ServerCertificate: ssh.MarshalAuthorizedKey(signed),
		ServerPrivateKey:  keyPEM,
		ClientCAPublicKey: h.SSHClientCA().PublicKeyAuthorizedFormat(),
	}, nil
}

// issueGatewaySSH issues a short-lived SSH user certificate under the
// scope's SSH client CA for a gateway actor, plus the SSH server CA public
// key for host-key verification.
func (a *Authority) issueGatewaySSH(_ context.Context, h ProxyHierarchy, actor Actor) (*GatewayCredentials, error) {
	key, sshPub, err := a.newLeafSSHKey()
	if err != nil {
		a.meter.SSHSigned("user", false)
		return nil, err
	}

	now := time.Now()
	cert := &ssh.Certificate{
		Key:             sshPub,
		KeyId:           actor.Type + ":" + actor.ID,
		CertType:        ssh.UserCert,
		ValidPrincipals: []string{actor.ID},
		ValidAfter:      uint64(now.Unix()),
		ValidBefore:     uint64(now.Add(a.config.GatewayCertTTL).Unix()),
	}
	signed, err := sshutil.CreateCertificate(cert, h.SSHClientCA().Signer)
	if err != nil {
		a.meter.SSHSigned("user", false)
		return nil, errors.Wrap(err, "error signing gateway SSH user certificate")
	}
	keyPEM, err := serializeKeyPEM(key)
	if err != nil {
		return nil, err
	}
	a.meter.SSHSigned("user", true)

	return &GatewayCredentials{
		SSHCertificate:    ssh.MarshalAuthorizedKey(signed),
		SSHPrivateKey:     keyPEM,
		ServerCAPublicKey: h.SSHServerCA().PublicKeyAuthorizedFormat(),
	}, nil
}

func (a *Authority) newLeafSSHKey() (crypto.Signer, ssh.PublicKey, error) {
	signer, err := keyutil.GenerateDefaultSigner()
	if err != nil {
		return nil, nil, errors.Wrap(err, "error generating SSH leaf key")
	}
	sshPub, err := ssh.NewPublicKey(signer.Public())
	if err != nil {
		return nil, nil, errors.Wrap(err, "error converting SSH public key")
	}
	return signer, sshPub, nil
}
