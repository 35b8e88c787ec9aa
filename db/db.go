// Package db implements the persistence layer of the credential core on top
// of a nosql key-value store. Encrypted fields are stored as opaque blobs;
// nothing in this package touches plaintext key material.
package db

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	nosqlDB "github.com/smallstep/nosql"
)

// InstanceProxyConfigID is the fixed identifier of the singleton
// InstanceProxyConfig row.
const InstanceProxyConfigID = "instance-proxy-config"

var (
	instanceConfigTable   = []byte("instance_proxy_configs")
	orgConfigTable        = []byte("org_proxy_configs")
	proxiesTable          = []byte("proxies")
	proxyNameIndexTable   = []byte("proxy_name_index")
	proxyIdentityIndex    = []byte("proxy_identity_index")
	sshHostsTable         = []byte("ssh_hosts")
	sshLoginUsersTable    = []byte("ssh_host_login_users")
	sshLoginMappingsTable = []byte("ssh_host_login_user_mappings")
	sshHostGroupsTable    = []byte("ssh_host_groups")
	sshGroupMembersTable  = []byte("ssh_host_group_memberships")
	sshCATable            = []byte("ssh_certificate_authorities")
	sshCASecretsTable     = []byte("ssh_certificate_authority_secrets")
	sshCertsTable         = []byte("ssh_certificates")
	sshCertBodiesTable    = []byte("ssh_certificate_bodies")
)

// ErrAlreadyExists is returned by Insert* methods when the row key is
// already taken. Hierarchy builders treat it as "someone else won the race".
var ErrAlreadyExists = errors.New("already exists")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// IsErrNotFound reports whether err is a row-missing error.
func IsErrNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DB is the persistence contract consumed by the authority, sshca and
// sshhost packages.
type DB interface {
	// CA hierarchy store
	GetInstanceProxyConfig(ctx context.Context) (*InstanceProxyConfig, error)
	InsertInstanceProxyConfig(ctx context.Context, cfg *InstanceProxyConfig) error
	GetOrgProxyConfig(ctx context.Context, orgID string) (*OrgProxyConfig, error)
	InsertOrgProxyConfig(ctx context.Context, cfg *OrgProxyConfig) error

	// Proxy registry
	GetProxyByID(ctx context.Context, id string) (*Proxy, error)
	GetProxyByName(ctx context.Context, name string) (*Proxy, error)
	GetProxyByIdentity(ctx context.Context, identityID, orgID string) (*Proxy, error)
	InsertProxy(ctx context.Context, p *Proxy) error

	// SSH hosts and login mappings
	GetSSHHost(ctx context.Context, id string) (*SSHHost, error)
	PutSSHHost(ctx context.Context, h *SSHHost) error
	ListSSHHostsByProject(ctx context.Context, projectID string) ([]*SSHHost, error)
	PutSSHHostGroup(ctx context.Context, g *SSHHostGroup) error
	ListLoginUsersByHost(ctx context.Context, hostID string) ([]*SSHHostLoginUser, error)
	ListLoginUsersByGroup(ctx context.Context, groupID string) ([]*SSHHostLoginUser, error)
	PutLoginUser(ctx context.Context, lu *SSHHostLoginUser) error
	ListMappingsByLoginUser(ctx context.Context, loginUserID string) ([]*SSHHostLoginUserMapping, error)
	PutLoginUserMapping(ctx context.Context, m *SSHHostLoginUserMapping) error
	ListGroupMembershipsByHost(ctx context.Context, hostID string) ([]*SSHHostGroupMembership, error)
	PutGroupMembership(ctx context.Context, m *SSHHostGroupMembership) error

	// SSH certificate authorities
	GetSSHCA(ctx context.Context, id string) (*SSHCertificateAuthority, error)
	InsertSSHCA(ctx context.Context, ca *SSHCertificateAuthority) error
	GetSSHCASecret(ctx context.Context, caID string) (*SSHCertificateAuthoritySecret, error)
	InsertSSHCASecret(ctx context.Context, s *SSHCertificateAuthoritySecret) error

	// Issued SSH certificates
	InsertSSHCertificate(ctx context.Context, cert *SSHCertificate, body *SSHCertificateBody) error
	GetSSHCertificate(ctx context.Context, id string) (*SSHCertificate, *SSHCertificateBody, error)
	ListSSHCertificatesByCA(ctx context.Context, caID string) ([]*SSHCertificate, error)
}

// NoSQL implements DB over a nosql key-value database.
type NoSQL struct {
	db nosqlDB.DB
}

// New creates the required tables and returns a DB backed by the given
// nosql database.
func New(db nosqlDB.DB) (*NoSQL, error) {
	tables := [][]byte{
		instanceConfigTable, orgConfigTable,
		proxiesTable, proxyNameIndexTable, proxyIdentityIndex,
		sshHostsTable, sshLoginUsersTable, sshLoginMappingsTable,
		sshHostGroupsTable, sshGroupMembersTable,
		sshCATable, sshCASecretsTable, sshCertsTable, sshCertBodiesTable,
	}
	for _, b := range tables {
		if err := db.CreateTable(b); err != nil {
			return nil, errors.Wrapf(err, "error creating table %s", string(b))
		}
	}
	return &NoSQL{db}, nil
}

// insert writes v under key only if the key is currently unset, returning
// ErrAlreadyExists otherwise.
func (d *NoSQL) insert(_ context.Context, table []byte, key string, v interface{}, typ string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "error marshaling %s", typ)
	}
	_, swapped, err := d.db.CmpAndSwap(table, []byte(key), nil, b)
	switch {
	case err != nil:
		return errors.Wrapf(err, "error saving %s", typ)
	case !swapped:
		return errors.Wrapf(ErrAlreadyExists, "%s %q", typ, key)
	default:
		return nil
	}
}

// put writes v under key unconditionally.
func (d *NoSQL) put(_ context.Context, table []byte, key string, v interface{}, typ string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "error marshaling %s", typ)
	}
	if err := d.db.Set(table, []byte(key), b); err != nil {
		return errors.Wrapf(err, "error saving %s", typ)
	}
	return nil
}

// get reads the row under key into v.
func (d *NoSQL) get(_ context.Context, table []byte, key string, v interface{}, typ string) error {
	b, err := d.db.Get(table, []byte(key))
	if err != nil {
		if nosqlDB.IsErrNotFound(err) {
			return errors.Wrapf(ErrNotFound, "%s %q", typ, key)
		}
		return errors.Wrapf(err, "error loading %s", typ)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrapf(err, "error unmarshaling %s", typ)
	}
	return nil
}

// list iterates every row of a table, decoding each value with decode.
func (d *NoSQL) list(_ context.Context, table []byte, typ string, decode func(b []byte) error) error {
	entries, err := d.db.List(table)
	if err != nil {
		return errors.Wrapf(err, "error listing %s", typ)
	}
	for _, e := range entries {
		if err := decode(e.Value); err != nil {
			return errors.Wrapf(err, "error unmarshaling %s", typ)
		}
	}
	return nil
}
