// Package sshhost resolves which login users an actor may assume on
// registered SSH hosts and issues the matching certificates.
package sshhost

import (
	"context"
	"slices"
	"sort"

	"github.com/pkg/errors"

	"github.com/infisical/cacore/db"
	"github.com/infisical/cacore/errs"
	"github.com/infisical/cacore/logging"
	"github.com/infisical/cacore/sshca"
)

// Source records where a login mapping was defined.
type Source string

// Login mapping sources. Host-level definitions take precedence over
// group-inherited ones.
const (
	SourceHost      Source = "HOST"
	SourceHostGroup Source = "HOST_GROUP"
)

// AllowedPrincipals is the set of platform users and groups permitted to
// assume a login user.
type AllowedPrincipals struct {
	Usernames []string `json:"usernames,omitempty"`
	Groups    []string `json:"groups,omitempty"`
}

// LoginMapping is one login user on a host with the merged set of
// principals allowed to assume it. Sources lists every layer that defined
// the mapping, host-level first.
type LoginMapping struct {
	LoginUser         string            `json:"loginUser"`
	AllowedPrincipals AllowedPrincipals `json:"allowedPrincipals"`
	Sources           []Source          `json:"sources"`
}

// Host is a registered SSH host together with its effective login
// mappings.
type Host struct {
	db.SSHHost
	LoginMappings []LoginMapping `json:"loginMappings"`
}

// PrincipalResolver converts an actor into the set of principal strings it
// may appear as in login mappings.
type PrincipalResolver interface {
	ResolvePrincipals(ctx context.Context, actorType, actorID string) ([]string, error)
}

// PermissionChecker is the external authorization collaborator consulted
// before host certificates are issued. Its errors pass through unchanged.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, actorType, actorID, projectID, action string) error
}

// Resolver answers host access questions and issues host and user
// certificates through the project's SSH CAs.
type Resolver struct {
	db         db.DB
	ca         *sshca.Manager
	principals PrincipalResolver
	perms      PermissionChecker
	logger     *logging.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used by the resolver.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New returns a Resolver backed by the given store and CA manager.
func New(store db.DB, ca *sshca.Manager, principals PrincipalResolver, perms PermissionChecker, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("sshhost resolver requires a database")
	}
	if ca == nil {
		return nil, errors.New("sshhost resolver requires an SSH CA manager")
	}
	if principals == nil {
		return nil, errors.New("sshhost resolver requires a principal resolver")
	}
	if perms == nil {
		return nil, errors.New("sshhost resolver requires a permission checker")
	}
	r := &Resolver{
		db:         store,
		ca:         ca,
		principals: principals,
		perms:      perms,
		logger:     logging.Nop(),
	}
	for _, fn := range opts {
		fn(r)
	}
	return r, nil
}

// GetHostWithLoginMappings returns the host and its effective login
// mappings, merged per login user across host-level and group-inherited
// definitions.
func (r *Resolver) GetHostWithLoginMappings(ctx context.Context, hostID string) (*Host, error) {
	host, err := r.db.GetSSHHost(ctx, hostID)
	if err != nil {
		if db.IsErrNotFound(err) {
			return nil, errs.NotFound("SSH host with ID %q not found", hostID)
		}
		return nil, err
	}
	mappings, err := r.effectiveMappings(ctx, hostID)
	if err != nil {
		return nil, err
	}
	return &Host{SSHHost: *host, LoginMappings: mappings}, nil
}

// FindUserAccessibleHosts lists, across the given projects, every host
// where the user or one of their groups appears in a login mapping. Each
// host carries only the login mappings the user can actually assume.
func (r *Resolver) FindUserAccessibleHosts(ctx context.Context, projectIDs []string, username string, groups []string) ([]*Host, error) {
	var out []*Host
	for _, projectID := range projectIDs {
		hosts, err := r.db.ListSSHHostsByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		for _, host := range hosts {
			mappings, err := r.effectiveMappings(ctx, host.ID)
			if err != nil {
				return nil, err
			}
			var granted []LoginMapping
			for _, m := range mappings {
				if mappingGrants(m, username, groups) {
					granted = append(granted, m)
				}
			}
			if len(granted) > 0 {
				out = append(out, &Host{SSHHost: *host, LoginMappings: granted})
			}
		}
	}
	return out, nil
}

func mappingGrants(m LoginMapping, username string, groups []string) bool {
	if slices.Contains(m.AllowedPrincipals.Usernames, username) {
		return true
	}
	for _, g := range groups {
		if slices.Contains(m.AllowedPrincipals.Groups, g) {
			return true
		}
	}
	return false
}

// effectiveMappings loads host-level and group-inherited login users,
// resolves their mappings and merges them into one entry per login user:
// principals are unioned and every contributing source is recorded, with
// HOST listed before HOST_GROUP.
func (r *Resolver) effectiveMappings(ctx context.Context, hostID string) ([]LoginMapping, error) {
	type entry struct {
		usernames map[string]struct{}
		groups    map[string]struct{}
		sources   map[Source]struct{}
	}
	merged := map[string]*entry{}
	var order []string

	collect := func(loginUsers []*db.SSHHostLoginUser, source Source) error {
		for _, lu := range loginUsers {
			rows, err := r.db.ListMappingsByLoginUser(ctx, lu.ID)
			if err != nil {
				return err
			}
			e, ok := merged[lu.LoginUser]
			if !ok {
				e = &entry{
					usernames: map[string]struct{}{},
					groups:    map[string]struct{}{},
					sources:   map[Source]struct{}{},
				}
				merged[lu.LoginUser] = e
				order = append(order, lu.LoginUser)
			}
			e.sources[source] = struct{}{}
			for _, row := range rows {
				if row.Username != "" {
					e.usernames[row.Username] = struct{}{}
				}
				if row.GroupSlug != "" {
					e.groups[row.GroupSlug] = struct{}{}
				}
			}
		}
		return nil
	}

	direct, err := r.db.ListLoginUsersByHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if err := collect(direct, SourceHost); err != nil {
		return nil, err
	}

	memberships, err := r.db.ListGroupMembershipsByHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		inherited, err := r.db.ListLoginUsersByGroup(ctx, m.GroupID)
		if err != nil {
			return nil, err
		}
		if err := collect(inherited, SourceHostGroup); err != nil {
			return nil, err
		}
	}

	out := make([]LoginMapping, 0, len(order))
	for _, loginUser := range order {
		e := merged[loginUser]
		lm := LoginMapping{
			LoginUser: loginUser,
			AllowedPrincipals: AllowedPrincipals{
				Usernames: sortedKeys(e.usernames),
				Groups:    sortedKeys(e.groups),
			},
		}
		if _, ok := e.sources[SourceHost]; ok {
			lm.Sources = append(lm.Sources, SourceHost)
		}
		if _, ok := e.sources[SourceHostGroup]; ok {
			lm.Sources = append(lm.Sources, SourceHostGroup)
		}
		out = append(out, lm)
	}
	return out, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
