package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ DB = (*NoSQL)(nil)

func TestInstanceProxyConfig(t *testing.T) {
	ctx := context.Background()
	d := NewSimple()

	_, err := d.GetInstanceProxyConfig(ctx)
	assert.True(t, IsErrNotFound(err))

	cfg := &InstanceProxyConfig{
		RootCA: EncryptedCA{Key: []byte("k"), Cert: []byte("c")},
	}
	require.NoError(t, d.InsertInstanceProxyConfig(ctx, cfg))
	assert.Equal(t, InstanceProxyConfigID, cfg.ID)

	got, err := d.GetInstanceProxyConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), got.RootCA.Key)

	// losing the singleton insert race reports ErrAlreadyExists
	err = d.InsertInstanceProxyConfig(ctx, &InstanceProxyConfig{})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestOrgProxyConfig(t *testing.T) {
	ctx := context.Background()
	d := NewSimple()

	require.NoError(t, d.InsertOrgProxyConfig(ctx, &OrgProxyConfig{OrgID: "org-1"}))
	require.NoError(t, d.InsertOrgProxyConfig(ctx, &OrgProxyConfig{OrgID: "org-2"}))
	assert.ErrorIs(t, d.InsertOrgProxyConfig(ctx, &OrgProxyConfig{OrgID: "org-1"}), ErrAlreadyExists)

	got, err := d.GetOrgProxyConfig(ctx, "org-2")
	require.NoError(t, err)
	assert.Equal(t, "org-2", got.OrgID)
}

func TestProxy_indexes(t *testing.T) {
	ctx := context.Background()
	d := NewSimple()

	p := &Proxy{ID: "p1", Name: "relay-east", IP: "10.0.0.1", OrgID: "org-1", IdentityID: "id-1"}
	require.NoError(t, d.InsertProxy(ctx, p))

	byName, err := d.GetProxyByName(ctx, "relay-east")
	require.NoError(t, err)
	assert.Equal(t, "p1", byName.ID)

	byIdentity, err := d.GetProxyByIdentity(ctx, "id-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", byIdentity.ID)

	// duplicate name
	err = d.InsertProxy(ctx, &Proxy{ID: "p2", Name: "relay-east", IP: "10.0.0.2"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// duplicate identity under a new name rolls the name index back
	err = d.InsertProxy(ctx, &Proxy{ID: "p3", Name: "relay-west", IP: "10.0.0.3", OrgID: "org-1", IdentityID: "id-1"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = d.GetProxyByName(ctx, "relay-west")
	assert.True(t, IsErrNotFound(err))
}

func TestSSHHost_listings(t *testing.T) {
	ctx := context.Background()
	d := NewSimple()

	require.NoError(t, d.PutSSHHost(ctx, &SSHHost{ID: "h1", ProjectID: "proj-1", Hostname: "db-1"}))
	require.NoError(t, d.PutSSHHost(ctx, &SSHHost{ID: "h2", ProjectID: "proj-1", Hostname: "db-2"}))
	require.NoError(t, d.PutSSHHost(ctx, &SSHHost{ID: "h3", ProjectID: "proj-2", Hostname: "web-1"}))

	hosts, err := d.ListSSHHostsByProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Len(t, hosts, 2)

	require.NoError(t, d.PutLoginUser(ctx, &SSHHostLoginUser{ID: "lu1", HostID: "h1", LoginUser: "deploy"}))
	require.NoError(t, d.PutLoginUser(ctx, &SSHHostLoginUser{ID: "lu2", GroupID: "g1", LoginUser: "root"}))

	direct, err := d.ListLoginUsersByHost(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, direct, 1)
	assert.Equal(t, "deploy", direct[0].LoginUser)

	inherited, err := d.ListLoginUsersByGroup(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, inherited, 1)
	assert.Equal(t, "root", inherited[0].LoginUser)

	require.NoError(t, d.PutLoginUserMapping(ctx, &SSHHostLoginUserMapping{ID: "m1", LoginUserID: "lu1", UserID: "u1", Username: "alice"}))
	mappings, err := d.ListMappingsByLoginUser(ctx, "lu1")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "alice", mappings[0].Username)

	require.NoError(t, d.PutGroupMembership(ctx, &SSHHostGroupMembership{ID: "gm1", GroupID: "g1", HostID: "h1"}))
	memberships, err := d.ListGroupMembershipsByHost(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "g1", memberships[0].GroupID)
}

func TestSSHCA_secretWrittenOnce(t *testing.T) {
	ctx := context.Background()
	d := NewSimple()

	require.NoError(t, d.InsertSSHCA(ctx, &SSHCertificateAuthority{ID: "ca1", ProjectID: "proj-1", KeyAlgorithm: "RSA_2048"}))
	require.NoError(t, d.InsertSSHCASecret(ctx, &SSHCertificateAuthoritySecret{CAID: "ca1", EncryptedPrivateKey: []byte("blob")}))
	assert.ErrorIs(t, d.InsertSSHCASecret(ctx, &SSHCertificateAuthoritySecret{CAID: "ca1"}), ErrAlreadyExists)

	s, err := d.GetSSHCASecret(ctx, "ca1")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), s.EncryptedPrivateKey)

	_, err = d.GetSSHCA(ctx, "missing")
	assert.True(t, IsErrNotFound(err))
}

func TestSSHCertificates(t *testing.T) {
	ctx := context.Background()
	d := NewSimple()

	cert := &SSHCertificate{ID: "c1", CAID: "ca1", KeyID: "key-1", CertType: "user", Principals: []string{"alice", "deploy"}}
	body := &SSHCertificateBody{CertificateID: "c1", EncryptedCertificate: []byte("blob")}
	require.NoError(t, d.InsertSSHCertificate(ctx, cert, body))

	gotCert, gotBody, err := d.GetSSHCertificate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", gotCert.KeyID)
	assert.Equal(t, []byte("blob"), gotBody.EncryptedCertificate)

	certs, err := d.ListSSHCertificatesByCA(ctx, "ca1")
	require.NoError(t, err)
	assert.Len(t, certs, 1)
}
