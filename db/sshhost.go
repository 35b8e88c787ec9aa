package db

import (
	"context"
	"encoding/json"
)

// GetSSHHost returns the host with the given ID.
func (d *NoSQL) GetSSHHost(ctx context.Context, id string) (*SSHHost, error) {
	h := new(SSHHost)
	if err := d.get(ctx, sshHostsTable, id, h, "ssh host"); err != nil {
		return nil, err
	}
	return h, nil
}

// PutSSHHost creates or replaces a host row.
func (d *NoSQL) PutSSHHost(ctx context.Context, h *SSHHost) error {
	return d.put(ctx, sshHostsTable, h.ID, h, "ssh host")
}

// ListSSHHostsByProject returns every host registered in a project.
func (d *NoSQL) ListSSHHostsByProject(ctx context.Context, projectID string) ([]*SSHHost, error) {
	var out []*SSHHost
	err := d.list(ctx, sshHostsTable, "ssh host", func(b []byte) error {
		h := new(SSHHost)
		if err := json.Unmarshal(b, h); err != nil {
			return err
		}
		if h.ProjectID == projectID {
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutSSHHostGroup creates or replaces a host group row.
func (d *NoSQL) PutSSHHostGroup(ctx context.Context, g *SSHHostGroup) error {
	return d.put(ctx, sshHostGroupsTable, g.ID, g, "ssh host group")
}

// ListLoginUsersByHost returns the login users defined directly on a host.
func (d *NoSQL) ListLoginUsersByHost(ctx context.Context, hostID string) ([]*SSHHostLoginUser, error) {
	return d.listLoginUsers(ctx, func(lu *SSHHostLoginUser) bool {
		return lu.HostID == hostID
	})
}

// ListLoginUsersByGroup returns the login users defined on a host group.
func (d *NoSQL) ListLoginUsersByGroup(ctx context.Context, groupID string) ([]*SSHHostLoginUser, error) {
	return d.listLoginUsers(ctx, func(lu *SSHHostLoginUser) bool {
		return lu.GroupID == groupID
	})
}

func (d *NoSQL) listLoginUsers(ctx context.Context, keep func(*SSHHostLoginUser) bool) ([]*SSHHostLoginUser, error) {
	var out []*SSHHostLoginUser
	err := d.list(ctx, sshLoginUsersTable, "ssh login user", func(b []byte) error {
		lu := new(SSHHostLoginUser)
		if err := json.Unmarshal(b, lu); err != nil {
			return err
		}
		if keep(lu) {
			out = append(out, lu)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutLoginUser creates or replaces a login-user row.
func (d *NoSQL) PutLoginUser(ctx context.Context, lu *SSHHostLoginUser) error {
	return d.put(ctx, sshLoginUsersTable, lu.ID, lu, "ssh login user")
}

// ListMappingsByLoginUser returns the principal mappings of a login user.
func (d *NoSQL) ListMappingsByLoginUser(ctx context.Context, loginUserID string) ([]*SSHHostLoginUserMapping, error) {
	var out []*SSHHostLoginUserMapping
	err := d.list(ctx, sshLoginMappingsTable, "ssh login user mapping", func(b []byte) error {
		m := new(SSHHostLoginUserMapping)
		if err := json.Unmarshal(b, m); err != nil {
			return err
		}
		if m.LoginUserID == loginUserID {
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutLoginUserMapping creates or replaces a principal-mapping row.
func (d *NoSQL) PutLoginUserMapping(ctx context.Context, m *SSHHostLoginUserMapping) error {
	return d.put(ctx, sshLoginMappingsTable, m.ID, m, "ssh login user mapping")
}

// ListGroupMembershipsByHost returns the group memberships of a host.
func (d *NoSQL) ListGroupMembershipsByHost(ctx context.Context, hostID string) ([]*SSHHostGroupMembership, error) {
	var out []*SSHHostGroupMembership
	err := d.list(ctx, sshGroupMembersTable, "ssh host group membership", func(b []byte) error {
		m := new(SSHHostGroupMembership)
		if err := json.Unmarshal(b, m); err != nil {
			return err
		}
		if m.HostID == hostID {
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutGroupMembership creates or replaces a host-group membership row.
func (d *NoSQL) PutGroupMembership(ctx context.Context, m *SSHHostGroupMembership) error {
	return d.put(ctx, sshGroupMembersTable, m.ID, m, "ssh host group membership")
}
