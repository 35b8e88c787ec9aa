package sshca

import (
	"slices"
	"time"

	"github.com/infisical/cacore/errs"
)

// Certificate types accepted by a template.
const (
	CertTypeUser = "user"
	CertTypeHost = "host"
)

// Template constrains what certificates a CA signs. Principal allow-lists
// support the "*" wildcard; an empty list denies every principal of that
// type.
type Template struct {
	AllowedCertTypes      []string `json:"allowedCertTypes"`
	AllowedUserPrincipals []string `json:"allowedUserPrincipals"`
	AllowedHostPrincipals []string `json:"allowedHostPrincipals"`
	MaxTTL                string   `json:"maxTtl"`
	DefaultTTL            string   `json:"defaultTtl"`
	AllowCustomKeyIDs     bool     `json:"allowCustomKeyIds"`
}

// DefaultTemplate permits both certificate types for any principal, with
// certificates capped at 30 days.
func DefaultTemplate() *Template {
	return &Template{
		AllowedCertTypes:      []string{CertTypeUser, CertTypeHost},
		AllowedUserPrincipals: []string{"*"},
		AllowedHostPrincipals: []string{"*"},
		MaxTTL:                "30d",
		DefaultTTL:            "8h",
		AllowCustomKeyIDs:     true,
	}
}

// validate checks the requested certificate parameters against the
// template and resolves the effective TTL. TTL is the only value that is
// clamped rather than rejected.
func (t *Template) validate(certType string, principals []string, keyID, ttl string) (time.Duration, error) {
	if certType != CertTypeUser && certType != CertTypeHost {
		return 0, errs.BadRequest("unknown certificate type %q", certType)
	}
	if !slices.Contains(t.AllowedCertTypes, certType) {
		return 0, errs.BadRequest("template does not allow %q certificates", certType)
	}

	if len(principals) == 0 {
		return 0, errs.BadRequest("at least one principal is required")
	}
	allowed := t.AllowedUserPrincipals
	if certType == CertTypeHost {
		allowed = t.AllowedHostPrincipals
	}
	for _, p := range principals {
		if p == "" {
			return 0, errs.BadRequest("empty principal")
		}
		if !principalAllowed(allowed, p) {
			return 0, errs.BadRequest("template does not allow the %s principal %q", certType, p)
		}
	}

	if keyID != "" && !t.AllowCustomKeyIDs {
		return 0, errs.BadRequest("template does not allow custom key IDs")
	}

	if ttl == "" {
		ttl = t.DefaultTTL
	}
	d, err := ParseTTL(ttl)
	if err != nil {
		return 0, err
	}
	maxTTL, err := ParseTTL(t.MaxTTL)
	if err != nil {
		return 0, err
	}
	if d > maxTTL {
		d = maxTTL
	}
	return d, nil
}

func principalAllowed(allowed []string, principal string) bool {
	for _, a := range allowed {
		if a == "*" || a == principal {
			return true
		}
	}
	return false
}
