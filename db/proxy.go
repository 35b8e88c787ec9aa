package db

import (
	"context"

	"github.com/pkg/errors"
)

func identityIndexKey(identityID, orgID string) string {
	return orgID + "/" + identityID
}

// GetProxyByID returns the proxy with the given row ID.
func (d *NoSQL) GetProxyByID(ctx context.Context, id string) (*Proxy, error) {
	p := new(Proxy)
	if err := d.get(ctx, proxiesTable, id, p, "proxy"); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProxyByName returns the proxy registered under the given name. Names
// are globally unique.
func (d *NoSQL) GetProxyByName(ctx context.Context, name string) (*Proxy, error) {
	var id string
	if err := d.get(ctx, proxyNameIndexTable, name, &id, "proxy name"); err != nil {
		return nil, err
	}
	return d.GetProxyByID(ctx, id)
}

// GetProxyByIdentity returns the proxy registered by the given machine
// identity within an organization.
func (d *NoSQL) GetProxyByIdentity(ctx context.Context, identityID, orgID string) (*Proxy, error) {
	var id string
	if err := d.get(ctx, proxyIdentityIndex, identityIndexKey(identityID, orgID), &id, "proxy identity"); err != nil {
		return nil, err
	}
	return d.GetProxyByID(ctx, id)
}

// InsertProxy persists a new proxy row along with its uniqueness indexes.
// It returns ErrAlreadyExists when the name, or the (identity, org) pair,
// is already registered.
func (d *NoSQL) InsertProxy(ctx context.Context, p *Proxy) error {
	if err := d.insert(ctx, proxyNameIndexTable, p.Name, p.ID, "proxy name"); err != nil {
		return err
	}
	if p.IdentityID != "" {
		key := identityIndexKey(p.IdentityID, p.OrgID)
		if err := d.insert(ctx, proxyIdentityIndex, key, p.ID, "proxy identity"); err != nil {
			// keep the indexes consistent before reporting the conflict
			if delErr := d.db.Del(proxyNameIndexTable, []byte(p.Name)); delErr != nil {
				return errors.Wrap(delErr, "error rolling back proxy name index")
			}
			return err
		}
	}
	return d.put(ctx, proxiesTable, p.ID, p, "proxy")
}
