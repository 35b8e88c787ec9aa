package db

import "context"

// GetInstanceProxyConfig returns the singleton instance hierarchy row.
func (d *NoSQL) GetInstanceProxyConfig(ctx context.Context) (*InstanceProxyConfig, error) {
	cfg := new(InstanceProxyConfig)
	if err := d.get(ctx, instanceConfigTable, InstanceProxyConfigID, cfg, "instance proxy config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InsertInstanceProxyConfig persists the singleton instance hierarchy row.
// A concurrent builder that loses the insert race gets ErrAlreadyExists and
// must re-read the winner's row.
func (d *NoSQL) InsertInstanceProxyConfig(ctx context.Context, cfg *InstanceProxyConfig) error {
	cfg.ID = InstanceProxyConfigID
	return d.insert(ctx, instanceConfigTable, cfg.ID, cfg, "instance proxy config")
}

// GetOrgProxyConfig returns the hierarchy row of the given organization.
func (d *NoSQL) GetOrgProxyConfig(ctx context.Context, orgID string) (*OrgProxyConfig, error) {
	cfg := new(OrgProxyConfig)
	if err := d.get(ctx, orgConfigTable, orgID, cfg, "org proxy config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InsertOrgProxyConfig persists an organization hierarchy row, failing with
// ErrAlreadyExists when one exists for the organization.
func (d *NoSQL) InsertOrgProxyConfig(ctx context.Context, cfg *OrgProxyConfig) error {
	return d.insert(ctx, orgConfigTable, cfg.OrgID, cfg, "org proxy config")
}
