package authority

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/infisical/cacore/authority/config"
	"github.com/infisical/cacore/db"
	"github.com/infisical/cacore/errs"
)

// RegisterProxyRequest is the input to RegisterProxy. Instance-scoped
// proxies set neither IdentityID nor OrgID; org-scoped proxies set both.
type RegisterProxyRequest struct {
	Name       string
	IP         string
	IdentityID string
	OrgID      string
}

// RegisterProxy creates or re-validates a proxy registration and issues its
// server credentials. Re-registering with identical name and IP is
// idempotent; a conflicting registration fails without touching the stored
// row.
func (a *Authority) RegisterProxy(ctx context.Context, req RegisterProxyRequest) (*ServerCredentials, error) {
	if req.Name == "" || req.IP == "" {
		return nil, errs.BadRequest("proxy name and IP are required")
	}

	var proxy *db.Proxy
	var err error
	switch {
	case req.IdentityID != "" && req.OrgID != "":
		proxy, err = a.registerOrgProxy(ctx, req)
	case req.IdentityID == "" && req.OrgID == "":
		proxy, err = a.registerInstanceProxy(ctx, req)
	default:
		return nil, errs.BadRequest("unhandled proxy type: identity ID and org ID must be set together")
	}
	if err != nil {
		return nil, err
	}

	h, err := a.hierarchyFor(ctx, proxy)
	if err != nil {
		return nil, err
	}
	return a.IssueProxyServerCredentials(ctx, h, proxy.IP)
}

func (a *Authority) registerInstanceProxy(ctx context.Context, req RegisterProxyRequest) (*db.Proxy, error) {
	if !strings.HasPrefix(req.Name, config.ReservedProxyPrefix) {
		return nil, errs.BadRequest("instance proxy name must start with the %q prefix", config.ReservedProxyPrefix)
	}

	existing, err := a.db.GetProxyByName(ctx, req.Name)
	switch {
	case err == nil:
		if existing.IP != req.IP {
			return nil, errs.BadRequest("proxy %q is already registered with a different IP", req.Name)
		}
		return existing, nil
	case !db.IsErrNotFound(err):
		return nil, err
	}

	proxy := &db.Proxy{
		ID:        xid.New().String(),
		Name:      req.Name,
		IP:        req.IP,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.db.InsertProxy(ctx, proxy); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			// concurrent registration; validate against the winner
			winner, gerr := a.db.GetProxyByName(ctx, req.Name)
			if gerr != nil {
				return nil, gerr
			}
			if winner.IP != req.IP {
				return nil, errs.BadRequest("proxy %q is already registered with a different IP", req.Name)
			}
			return winner, nil
		}
		return nil, err
	}
	a.logger.Info("instance proxy registered", "name", proxy.Name, "ip", proxy.IP)
	return proxy, nil
}

func (a *Authority) registerOrgProxy(ctx context.Context, req RegisterProxyRequest) (*db.Proxy, error) {
	if strings.HasPrefix(req.Name, config.ReservedProxyPrefix) {
		return nil, errs.BadRequest("org proxy name must not start with the reserved %q prefix", config.ReservedProxyPrefix)
	}

	existing, err := a.db.GetProxyByIdentity(ctx, req.IdentityID, req.OrgID)
	switch {
	case err == nil:
		if existing.IP != req.IP || existing.Name != req.Name {
			return nil, errs.BadRequest("org proxy with this machine identity already exists with a different name or IP")
		}
		return existing, nil
	case !db.IsErrNotFound(err):
		return nil, err
	}

	proxy := &db.Proxy{
		ID:         xid.New().String(),
		Name:       req.Name,
		IP:         req.IP,
		OrgID:      req.OrgID,
		IdentityID: req.IdentityID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.db.InsertProxy(ctx, proxy); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			// either the identity raced a concurrent registration or the
			// name belongs to another proxy
			winner, gerr := a.db.GetProxyByIdentity(ctx, req.IdentityID, req.OrgID)
			if gerr == nil {
				if winner.IP != req.IP || winner.Name != req.Name {
					return nil, errs.BadRequest("org proxy with this machine identity already exists with a different name or IP")
				}
				return winner, nil
			}
			if !db.IsErrNotFound(gerr) {
				return nil, gerr
			}
			return nil, errs.BadRequest("proxy name %q is already registered", req.Name)
		}
		return nil, err
	}
	a.logger.Info("org proxy registered", "name", proxy.Name, "ip", proxy.IP, "orgId", proxy.OrgID)
	return proxy, nil
}

// IssueProxyServerCredentials bundles the PKI and SSH server legs for a
// proxy at the given IP.
func (a *Authority) IssueProxyServerCredentials(ctx context.Context, h ProxyHierarchy, ip string) (*ServerCredentials, error) {
	pki, err := a.issueProxyServerPKI(ctx, h, ip)
	if err != nil {
		return nil, err
	}
	sshCreds, err := a.issueProxySSHServer(ctx, h, ip)
	if err != nil {
		return nil, err
	}
	return &ServerCredentials{PKI: pki, SSH: sshCreds}, nil
}

// GetCredentialsForGateway issues the SSH user certificate and the
// mutual-TLS client bundle a gateway needs to reach the named proxy.
func (a *Authority) GetCredentialsForGateway(ctx context.Context, proxyName string, actor Actor) (*GatewayCredentials, *ClientCredentials, error) {
	proxy, err := a.db.GetProxyByName(ctx, proxyName)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, nil, errs.NotFound("proxy %q not found", proxyName)
		}
		return nil, nil, err
	}
	h, err := a.hierarchyFor(ctx, proxy)
	if err != nil {
		return nil, nil, err
	}
	gw, err := a.issueGatewaySSH(ctx, h, actor)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.IssueProxyClientCredentials(ctx, h, actor, proxy.ID)
	if err != nil {
		return nil, nil, err
	}
	return gw, client, nil
}

// GetCredentialsForClient issues a short-lived mutual-TLS client bundle for
// an actor connecting to the proxy with the given ID.
func (a *Authority) GetCredentialsForClient(ctx context.Context, proxyID string, actor Actor) (*ClientCredentials, error) {
	proxy, err := a.db.GetProxyByID(ctx, proxyID)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, errs.NotFound("proxy with ID %q not found", proxyID)
		}
		return nil, err
	}
	h, err := a.hierarchyFor(ctx, proxy)
	if err != nil {
		return nil, err
	}
	return a.IssueProxyClientCredentials(ctx, h, actor, proxy.ID)
}
