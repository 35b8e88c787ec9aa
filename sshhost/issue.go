package sshhost

import (
	"context"
	"slices"

	"github.com/infisical/cacore/db"
	"github.com/infisical/cacore/errs"
	"github.com/infisical/cacore/sshca"
)

// ActionIssueHostCert is the capability checked before a host certificate
// is issued.
const ActionIssueHostCert = "issue-host-cert"

// IssueUserCert issues an SSH user certificate allowing the actor to log in
// to the host as loginUser. The actor must hold a principal granted by one
// of the host's login mappings for that login user; nothing is signed or
// persisted otherwise.
func (r *Resolver) IssueUserCert(ctx context.Context, hostID, loginUser, actorType, actorID string) (*sshca.Credential, error) {
	host, err := r.db.GetSSHHost(ctx, hostID)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, errs.NotFound("SSH host with ID %q not found", hostID)
		}
		return nil, err
	}

	actorPrincipals, err := r.principals.ResolvePrincipals(ctx, actorType, actorID)
	if err != nil {
		return nil, err
	}

	mappings, err := r.effectiveMappings(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if !loginUserGranted(mappings, loginUser, actorPrincipals) {
		return nil, errs.Unauthorized("actor is not authorized to assume login user %q on host %q", loginUser, host.Hostname)
	}

	principals := append(slices.Clone(actorPrincipals), loginUser)
	slices.Sort(principals)
	principals = slices.Compact(principals)

	cred, err := r.ca.IssueSSHCreds(ctx, sshca.IssueSSHCredsRequest{
		CAID:       host.UserSSHCAID,
		CertType:   sshca.CertTypeUser,
		Principals: principals,
		KeyID:      actorType + "-" + actorID,
		TTL:        host.UserCertTTL,
		Template:   hostTemplate(sshca.CertTypeUser, host.UserCertTTL),
		HostID:     host.ID,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("SSH user certificate issued",
		"hostId", host.ID, "loginUser", loginUser, "actorId", actorID)
	return cred, nil
}

// IssueHostCert signs the given public key as an SSH host certificate for
// the host's hostname. The external permission check gates the operation;
// its errors surface unchanged.
func (r *Resolver) IssueHostCert(ctx context.Context, hostID string, publicKey []byte, actorType, actorID string) (*sshca.Credential, error) {
	host, err := r.db.GetSSHHost(ctx, hostID)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, errs.NotFound("SSH host with ID %q not found", hostID)
		}
		return nil, err
	}

	if err := r.perms.CheckPermission(ctx, actorType, actorID, host.ProjectID, ActionIssueHostCert); err != nil {
		return nil, err
	}

	cred, err := r.ca.SignSSHKey(ctx, sshca.SignSSHKeyRequest{
		CAID:       host.HostSSHCAID,
		PublicKey:  publicKey,
		CertType:   sshca.CertTypeHost,
		Principals: []string{host.Hostname},
		KeyID:      host.Hostname,
		TTL:        host.HostCertTTL,
		Template:   hostTemplate(sshca.CertTypeHost, host.HostCertTTL),
		HostID:     host.ID,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("SSH host certificate issued", "hostId", host.ID, "hostname", host.Hostname)
	return cred, nil
}

func loginUserGranted(mappings []LoginMapping, loginUser string, actorPrincipals []string) bool {
	for _, m := range mappings {
		if m.LoginUser != loginUser {
			continue
		}
		for _, p := range actorPrincipals {
			if slices.Contains(m.AllowedPrincipals.Usernames, p) ||
				slices.Contains(m.AllowedPrincipals.Groups, p) {
				return true
			}
		}
	}
	return false
}

// hostTemplate binds certificate constraints to the host's configured TTL.
func hostTemplate(certType, ttl string) *sshca.Template {
	return &sshca.Template{
		AllowedCertTypes:      []string{certType},
		AllowedUserPrincipals: []string{"*"},
		AllowedHostPrincipals: []string{"*"},
		MaxTTL:                ttl,
		DefaultTTL:            ttl,
		AllowCustomKeyIDs:     true,
	}
}
