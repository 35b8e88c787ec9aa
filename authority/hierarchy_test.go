package authority

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.step.sm/crypto/pemutil"

	"github.com/infisical/cacore/authority/config"
	"github.com/infisical/cacore/db"
	"github.com/infisical/cacore/kms"
)

func testConfig() *config.Config {
	// EC keys keep test runs fast
	return &config.Config{KeyType: "EC", Curve: "P-256"}
}

func testAuthority(t *testing.T) *Authority {
	t.Helper()
	rootKey := make([]byte, 32)
	_, err := rand.Read(rootKey)
	require.NoError(t, err)
	svc, err := kms.NewAEAD(rootKey)
	require.NoError(t, err)
	a, err := New(testConfig(), db.NewSimple(), svc)
	require.NoError(t, err)
	return a
}

func TestAuthority_GetInstanceHierarchy(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	h, err := a.GetInstanceHierarchy(ctx)
	require.NoError(t, err)

	root := h.Root.Certificate
	assert.True(t, root.IsCA)
	assert.Equal(t, root.Subject.CommonName, root.Issuer.CommonName)
	assert.NoError(t, root.CheckSignatureFrom(root))
	assert.Empty(t, h.Root.Chain)

	assert.Equal(t, 2, h.OrgProxyCA.Certificate.MaxPathLen)
	assert.Equal(t, 1, h.InstanceProxyCA.Certificate.MaxPathLen)
	assert.True(t, h.ClientCA.Certificate.MaxPathLenZero)
	assert.True(t, h.ServerCA.Certificate.MaxPathLenZero)

	// intermediates chain back to the root, issuer first
	require.Len(t, h.OrgProxyCA.Chain, 1)
	assert.Equal(t, root.SerialNumber, h.OrgProxyCA.Chain[0].SerialNumber)
	require.Len(t, h.ClientCA.Chain, 2)
	assert.Equal(t, h.InstanceProxyCA.Certificate.SerialNumber, h.ClientCA.Chain[0].SerialNumber)
	assert.Equal(t, root.SerialNumber, h.ClientCA.Chain[1].SerialNumber)

	assert.NoError(t, h.OrgProxyCA.Certificate.CheckSignatureFrom(root))
	assert.NoError(t, h.ClientCA.Certificate.CheckSignatureFrom(h.InstanceProxyCA.Certificate))

	assert.NotNil(t, h.SSHServer.Signer)
	assert.NotNil(t, h.SSHClient.Signer)

	// the second call returns the persisted hierarchy, not a new one
	again, err := a.GetInstanceHierarchy(ctx)
	require.NoError(t, err)
	assert.Equal(t, root.SerialNumber, again.Root.Certificate.SerialNumber)
}

func TestAuthority_GetInstanceHierarchy_persisted(t *testing.T) {
	rootKey := make([]byte, 32)
	_, err := rand.Read(rootKey)
	require.NoError(t, err)
	svc, err := kms.NewAEAD(rootKey)
	require.NoError(t, err)
	store := db.NewSimple()

	a1, err := New(testConfig(), store, svc)
	require.NoError(t, err)
	h1, err := a1.GetInstanceHierarchy(context.Background())
	require.NoError(t, err)

	// a fresh authority over the same store and key decrypts the same row
	a2, err := New(testConfig(), store, svc)
	require.NoError(t, err)
	h2, err := a2.GetInstanceHierarchy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, h1.Root.Certificate.Raw, h2.Root.Certificate.Raw)
	assert.Equal(t, h1.ServerCA.Certificate.Raw, h2.ServerCA.Certificate.Raw)
	assert.Equal(t,
		h1.SSHServer.PublicKeyAuthorizedFormat(),
		h2.SSHServer.PublicKeyAuthorizedFormat())
}

func TestAuthority_GetInstanceHierarchy_concurrent(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	const n = 8
	roots := make([]*x509.Certificate, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := a.GetInstanceHierarchy(ctx)
			assert.NoError(t, err)
			if err == nil {
				roots[i] = h.Root.Certificate
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.NotNil(t, roots[i])
		assert.Equal(t, roots[0].SerialNumber, roots[i].SerialNumber)
	}
}

func TestAuthority_GetOrgHierarchy(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	h, err := a.GetOrgHierarchy(ctx, "org-a")
	require.NoError(t, err)
	instance, err := a.GetInstanceHierarchy(ctx)
	require.NoError(t, err)

	// the org CAs are signed by the instance org-proxy CA
	assert.NoError(t, h.ServerCA.Certificate.CheckSignatureFrom(instance.OrgProxyCA.Certificate))
	assert.NoError(t, h.ClientCA.Certificate.CheckSignatureFrom(instance.OrgProxyCA.Certificate))
	assert.Equal(t, []string{"org-a"}, h.ServerCA.Certificate.Subject.Organization)

	// and verify through the chain up to the root
	roots := x509.NewCertPool()
	roots.AddCert(instance.Root.Certificate)
	intermediates := x509.NewCertPool()
	for _, crt := range h.ServerCA.Chain {
		intermediates.AddCert(crt)
	}
	_, err = h.ServerCA.Certificate.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	assert.NoError(t, err)
}

func mustParseCertPEM(t *testing.T, b []byte) *x509.Certificate {
	t.Helper()
	crt, err := pemutil.ParseCertificate(b)
	require.NoError(t, err)
	return crt
}

func TestAuthority_GetOrgHierarchy_isolated(t *testing.T) {
	a := testAuthority(t)
	ctx := context.Background()

	orgA, err := a.GetOrgHierarchy(ctx, "org-a")
	require.NoError(t, err)
	orgB, err := a.GetOrgHierarchy(ctx, "org-b")
	require.NoError(t, err)

	assert.NotEqual(t, orgA.ServerCA.Certificate.SerialNumber, orgB.ServerCA.Certificate.SerialNumber)

	// a leaf signed by org A's server CA does not check out against org B's
	creds, err := a.issueProxyServerPKI(ctx, orgA, "10.0.0.1")
	require.NoError(t, err)
	leaf := mustParseCertPEM(t, creds.ServerCertificate)
	assert.NoError(t, leaf.CheckSignatureFrom(orgA.ServerCA.Certificate))
	assert.Error(t, leaf.CheckSignatureFrom(orgB.ServerCA.Certificate))
}

func TestAuthority_GetOrgHierarchy_requiresOrgID(t *testing.T) {
	a := testAuthority(t)
	_, err := a.GetOrgHierarchy(context.Background(), "")
	assert.Error(t, err)
}
