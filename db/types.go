package db

import "time"

// EncryptedCA holds one tier of a CA hierarchy with every field encrypted by
// the envelope crypto gateway. Chain is the PEM concatenation of every
// ancestor certificate up to, but excluding, this CA's own certificate; it is
// empty for a root.
type EncryptedCA struct {
	Key   []byte `json:"key"`
	Cert  []byte `json:"cert"`
	Chain []byte `json:"chain,omitempty"`
}

// EncryptedKeyPair holds an SSH CA key pair. The public key is stored in
// authorized_keys format; both halves are encrypted.
type EncryptedKeyPair struct {
	PrivateKey []byte `json:"privateKey"`
	PublicKey  []byte `json:"publicKey"`
}

// InstanceProxyConfig is the singleton row holding the instance-wide CA
// hierarchy. Exactly one row ever exists, keyed by InstanceProxyConfigID.
// It is created lazily and never mutated afterwards.
type InstanceProxyConfig struct {
	ID               string           `json:"id"`
	RootCA           EncryptedCA      `json:"rootCa"`
	OrgProxyCA       EncryptedCA      `json:"orgProxyCa"`
	InstanceProxyCA  EncryptedCA      `json:"instanceProxyCa"`
	InstanceClientCA EncryptedCA      `json:"instanceClientCa"`
	InstanceServerCA EncryptedCA      `json:"instanceServerCa"`
	SSHServerCA      EncryptedKeyPair `json:"sshServerCa"`
	SSHClientCA      EncryptedKeyPair `json:"sshClientCa"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// OrgProxyConfig holds one organization's CA hierarchy, keyed by OrgID. The
// client and server CAs chain through the instance's org-proxy CA to the
// root. At most one row per organization.
type OrgProxyConfig struct {
	OrgID       string           `json:"orgId"`
	ClientCA    EncryptedCA      `json:"clientCa"`
	ServerCA    EncryptedCA      `json:"serverCa"`
	SSHServerCA EncryptedKeyPair `json:"sshServerCa"`
	SSHClientCA EncryptedKeyPair `json:"sshClientCa"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Proxy is a registered proxy endpoint. Instance proxies have no OrgID or
// IdentityID; org proxies have both.
type Proxy struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IP         string    `json:"ip"`
	OrgID      string    `json:"orgId,omitempty"`
	IdentityID string    `json:"identityId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SSHHost is a registered SSH host in a project.
type SSHHost struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Hostname    string `json:"hostname"`
	Alias       string `json:"alias,omitempty"`
	UserCertTTL string `json:"userCertTtl"`
	HostCertTTL string `json:"hostCertTtl"`
	UserSSHCAID string `json:"userSshCaId"`
	HostSSHCAID string `json:"hostSshCaId"`
}

// SSHHostLoginUser defines a login user on a host or a host group. Exactly
// one of HostID or GroupID is set.
type SSHHostLoginUser struct {
	ID        string `json:"id"`
	HostID    string `json:"hostId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	LoginUser string `json:"loginUser"`
}

// SSHHostLoginUserMapping grants a platform user or group the right to
// assume a login user. Exactly one of UserID or UserGroupID is set.
type SSHHostLoginUserMapping struct {
	ID          string `json:"id"`
	LoginUserID string `json:"loginUserId"`
	UserID      string `json:"userId,omitempty"`
	Username    string `json:"username,omitempty"`
	UserGroupID string `json:"userGroupId,omitempty"`
	GroupSlug   string `json:"groupSlug,omitempty"`
}

// SSHHostGroup is a named group of hosts in a project. Login users defined
// on a group are inherited by every member host.
type SSHHostGroup struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// SSHHostGroupMembership links a host into a host group.
type SSHHostGroupMembership struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	HostID  string `json:"hostId"`
}

// SSHCertificateAuthority is a single-tier SSH CA owned by a project.
type SSHCertificateAuthority struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	FriendlyName string    `json:"friendlyName,omitempty"`
	KeyAlgorithm string    `json:"keyAlgorithm"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SSHCertificateAuthoritySecret stores the encrypted private key of an SSH
// CA, keyed by the CA's ID.
type SSHCertificateAuthoritySecret struct {
	CAID                string `json:"caId"`
	EncryptedPrivateKey []byte `json:"encryptedPrivateKey"`
}

// SSHCertificate records a signed SSH certificate.
type SSHCertificate struct {
	ID         string    `json:"id"`
	CAID       string    `json:"caId"`
	HostID     string    `json:"hostId,omitempty"`
	KeyID      string    `json:"keyId"`
	Serial     uint64    `json:"serial"`
	CertType   string    `json:"certType"`
	Principals []string  `json:"principals"`
	NotBefore  time.Time `json:"notBefore"`
	NotAfter   time.Time `json:"notAfter"`
}

// SSHCertificateBody stores the encrypted signed certificate, keyed by the
// SSHCertificate row ID.
type SSHCertificateBody struct {
	CertificateID        string `json:"certificateId"`
	EncryptedCertificate []byte `json:"encryptedCertificate"`
}
