package authority

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/infisical/cacore/errs"
)

func TestAuthority_RegisterProxy_instance(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	creds, err := a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "infisical-us-east", IP: "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, creds)

	leaf := mustParseCertPEM(t, creds.PKI.ServerCertificate)
	assert.Equal(t, "10.0.0.1", leaf.Subject.CommonName)
	assert.Equal(t, []string{InstanceScopeName}, leaf.Subject.Organization)
	assert.Equal(t, []string{"Proxy"}, leaf.Subject.OrganizationalUnit)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "10.0.0.1", leaf.IPAddresses[0].String())

	// exact server TTL
	assert.Equal(t, 30*24*time.Hour, leaf.NotAfter.Sub(leaf.NotBefore))

	// the proxy row is reusable: same name and IP re-registers idempotently
	again, err := a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "infisical-us-east", IP: "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, again)

	// same name with another IP is a conflict
	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "infisical-us-east", IP: "10.0.0.2",
	})
	assert.True(t, errs.IsBadRequest(err))
}

func TestAuthority_RegisterProxy_namingRules(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	// instance proxies must carry the reserved prefix
	_, err := a.RegisterProxy(ctx, RegisterProxyRequest{Name: "us-east", IP: "10.0.0.1"})
	assert.True(t, errs.IsBadRequest(err))

	// org proxies must not
	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "infisical-x", IP: "10.0.0.1", IdentityID: "id-1", OrgID: "org-a",
	})
	assert.True(t, errs.IsBadRequest(err))

	// identity and org must come together
	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "us-east", IP: "10.0.0.1", OrgID: "org-a",
	})
	assert.True(t, errs.IsBadRequest(err))
	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "infisical-x", IP: "10.0.0.1", IdentityID: "id-1",
	})
	assert.True(t, errs.IsBadRequest(err))
}

func TestAuthority_RegisterProxy_org(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	creds, err := a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "east", IP: "10.1.0.1", IdentityID: "id-1", OrgID: "org-a",
	})
	require.NoError(t, err)

	leaf := mustParseCertPEM(t, creds.PKI.ServerCertificate)
	assert.Equal(t, []string{"org-a"}, leaf.Subject.Organization)

	// idempotent for the same identity
	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "east", IP: "10.1.0.1", IdentityID: "id-1", OrgID: "org-a",
	})
	require.NoError(t, err)

	// the same identity with a different name or IP conflicts
	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "west", IP: "10.1.0.1", IdentityID: "id-1", OrgID: "org-a",
	})
	assert.True(t, errs.IsBadRequest(err))

	// a different identity cannot claim a taken name
	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "east", IP: "10.1.0.2", IdentityID: "id-2", OrgID: "org-a",
	})
	assert.True(t, errs.IsBadRequest(err))
}

func TestAuthority_RegisterProxy_sshHostCert(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	creds, err := a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "infisical-us-east", IP: "10.0.0.1",
	})
	require.NoError(t, err)

	pub, _, _, _, err := ssh.ParseAuthorizedKey(creds.SSH.ServerCertificate)
	require.NoError(t, err)
	cert, ok := pub.(*ssh.Certificate)
	require.True(t, ok)

	assert.Equal(t, uint32(ssh.HostCert), cert.CertType)
	assert.Equal(t, []string{"10.0.0.1:2222"}, cert.ValidPrincipals)
	assert.Equal(t, uint64(30*24*time.Hour/time.Second), cert.ValidBefore-cert.ValidAfter)

	// signed by the instance SSH server CA
	h, err := a.GetInstanceHierarchy(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.SSHServer.PublicKey.Marshal(), cert.SignatureKey.Marshal())
	assert.Equal(t, h.SSHClient.PublicKeyAuthorizedFormat(), creds.SSH.ClientCAPublicKey)
}

func TestAuthority_GetCredentialsForGateway(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()
	actor := Actor{Type: "identity", ID: "machine-1"}

	_, _, err := a.GetCredentialsForGateway(ctx, "infisical-missing", actor)
	assert.True(t, errs.IsNotFound(err))

	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "east", IP: "10.1.0.1", IdentityID: "id-1", OrgID: "org-a",
	})
	require.NoError(t, err)

	gw, client, err := a.GetCredentialsForGateway(ctx, "east", actor)
	require.NoError(t, err)

	pub, _, _, _, err := ssh.ParseAuthorizedKey(gw.SSHCertificate)
	require.NoError(t, err)
	cert, ok := pub.(*ssh.Certificate)
	require.True(t, ok)
	assert.Equal(t, uint32(ssh.UserCert), cert.CertType)
	assert.Equal(t, "identity:machine-1", cert.KeyId)
	assert.Equal(t, []string{"machine-1"}, cert.ValidPrincipals)
	assert.Equal(t, uint64(5*time.Minute/time.Second), cert.ValidBefore-cert.ValidAfter)

	h, err := a.GetOrgHierarchy(ctx, "org-a")
	require.NoError(t, err)
	assert.Equal(t, h.SSHClient.PublicKey.Marshal(), cert.SignatureKey.Marshal())
	assert.Equal(t, h.SSHServer.PublicKeyAuthorizedFormat(), gw.ServerCAPublicKey)

	leaf := mustParseCertPEM(t, client.ClientCertificate)
	assert.Equal(t, 5*time.Minute, leaf.NotAfter.Sub(leaf.NotBefore))
	assert.Equal(t, []string{"proxy-client"}, leaf.Subject.OrganizationalUnit)
	assert.NoError(t, leaf.CheckSignatureFrom(h.ClientCA.Certificate))
}

func TestAuthority_GetCredentialsForClient(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()
	actor := Actor{Type: "user", ID: "alice"}

	_, err := a.GetCredentialsForClient(ctx, "missing", actor)
	assert.True(t, errs.IsNotFound(err))

	_, err = a.RegisterProxy(ctx, RegisterProxyRequest{
		Name: "infisical-us-east", IP: "10.0.0.1",
	})
	require.NoError(t, err)

	proxy, err := a.db.GetProxyByName(ctx, "infisical-us-east")
	require.NoError(t, err)

	creds, err := a.GetCredentialsForClient(ctx, proxy.ID, actor)
	require.NoError(t, err)

	leaf := mustParseCertPEM(t, creds.ClientCertificate)
	assert.Equal(t, "user:"+proxy.ID, leaf.Subject.CommonName)
	assert.Equal(t, []string{InstanceScopeName}, leaf.Subject.Organization)

	h, err := a.GetInstanceHierarchy(ctx)
	require.NoError(t, err)
	assert.NoError(t, leaf.CheckSignatureFrom(h.ClientCA.Certificate))
	assert.Equal(t, h.ServerCA.BundlePEM(), creds.ServerCertificateChain)
}
