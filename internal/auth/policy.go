// Package auth implements the daemon's permission policy: which role an
// API token resolves to under the configured auth mode, and which
// operations that role may perform (spec.md §4.8). Grounded on
// web/handlers/middleware.go's RequireAuth — that middleware only ever
// asked "is this the one configured token", a binary local/production
// gate; this package generalizes the same constant-time comparison into a
// role lookup so a token can resolve to something narrower than full
// access.
package auth

import (
	"crypto/subtle"
	"fmt"
)

// Mode selects how tokens resolve to roles (spec.md §4.8).
type Mode string

const (
	ModeLocal         Mode = "local"          // single operator, one token maps to admin
	ModeLocalNoToken  Mode = "local-notoken"   // no token required, every caller is admin
	ModeHybrid        Mode = "hybrid"          // a configured admin token plus per-agent tokens
	ModeTeam          Mode = "team"            // a token table with per-token roles
)

func IsValidMode(m Mode) bool {
	switch m {
	case ModeLocal, ModeLocalNoToken, ModeHybrid, ModeTeam:
		return true
	}
	return false
}

// Role is a named bundle of permissions.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleAgent    Role = "agent"
	RoleReadonly Role = "readonly"
)

// Permission is one gated operation (spec.md §4.8).
type Permission string

const (
	PermRemember    Permission = "remember"
	PermRecall      Permission = "recall"
	PermModify      Permission = "modify"
	PermForget      Permission = "forget"
	PermRecover     Permission = "recover"
	PermAdmin       Permission = "admin"
	PermDocuments   Permission = "documents"
	PermConnectors  Permission = "connectors"
	PermDiagnostics Permission = "diagnostics"
)

// rolePermissions is the fixed role -> permission-set table (spec.md
// §4.8): admin has all; operator has all except admin; agent has
// {remember, recall, modify, forget, recover, documents}; readonly has
// {recall}.
var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermRemember: true, PermRecall: true, PermModify: true, PermForget: true,
		PermRecover: true, PermAdmin: true, PermDocuments: true, PermConnectors: true,
		PermDiagnostics: true,
	},
	RoleOperator: {
		PermRemember: true, PermRecall: true, PermModify: true, PermForget: true,
		PermRecover: true, PermDocuments: true, PermConnectors: true, PermDiagnostics: true,
	},
	RoleAgent: {
		PermRemember: true, PermRecall: true, PermModify: true, PermForget: true,
		PermRecover: true, PermDocuments: true,
	},
	RoleReadonly: {
		PermRecall: true,
	},
}

// ErrUnauthorized is returned when a token doesn't match any configured
// identity under the active mode.
type ErrUnauthorized struct{ Reason string }

func (e *ErrUnauthorized) Error() string { return "auth: unauthorized: " + e.Reason }

// ErrForbidden is returned when a caller is known but lacks the
// permission the operation requires.
type ErrForbidden struct {
	Role       Role
	Permission Permission
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("auth: role %s lacks permission %s", e.Role, e.Permission)
}

// Claims is a token's scope restriction along the three dimensions
// spec.md §4.8's checkScope recognizes. A zero-value Claims is
// unrestricted (full access).
type Claims struct {
	Project string
	Agent   string
	User    string
}

// Empty reports whether none of the three dimensions are set.
func (c Claims) Empty() bool {
	return c.Project == "" && c.Agent == "" && c.User == ""
}

// TokenIdentity is one entry in a team-mode token table.
type TokenIdentity struct {
	Token  string
	Role   Role
	Claims Claims // optional project/agent/user scope restricting recall/remember
}

// Policy resolves an incoming token to a role under the configured mode
// and checks permissions/scopes against it.
type Policy struct {
	mode       Mode
	adminToken string
	identities []TokenIdentity
}

// NewPolicy builds a Policy. adminToken is the single token ModeLocal and
// ModeHybrid compare against; identities is the per-token role table
// ModeTeam (and ModeHybrid, for non-admin callers) consults.
func NewPolicy(mode Mode, adminToken string, identities []TokenIdentity) *Policy {
	return &Policy{mode: mode, adminToken: adminToken, identities: identities}
}

// Resolve maps a bearer token to a role and its scope claims, or returns
// ErrUnauthorized.
func (p *Policy) Resolve(token string) (Role, Claims, error) {
	switch p.mode {
	case ModeLocalNoToken:
		return RoleAdmin, Claims{}, nil
	case ModeLocal:
		if p.adminToken == "" || !constantTimeEqual(token, p.adminToken) {
			return "", Claims{}, &ErrUnauthorized{Reason: "token does not match configured admin token"}
		}
		return RoleAdmin, Claims{}, nil
	case ModeHybrid:
		if p.adminToken != "" && constantTimeEqual(token, p.adminToken) {
			return RoleAdmin, Claims{}, nil
		}
		if id, ok := p.lookupIdentity(token); ok {
			return id.Role, id.Claims, nil
		}
		return "", Claims{}, &ErrUnauthorized{Reason: "token not recognized"}
	case ModeTeam:
		if id, ok := p.lookupIdentity(token); ok {
			return id.Role, id.Claims, nil
		}
		return "", Claims{}, &ErrUnauthorized{Reason: "token not recognized"}
	default:
		return "", Claims{}, &ErrUnauthorized{Reason: fmt.Sprintf("unknown auth mode %q", p.mode)}
	}
}

func (p *Policy) lookupIdentity(token string) (TokenIdentity, bool) {
	for _, id := range p.identities {
		if constantTimeEqual(token, id.Token) {
			return id, true
		}
	}
	return TokenIdentity{}, false
}

func constantTimeEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CheckPermission reports whether role is allowed to perform perm.
func CheckPermission(role Role, perm Permission) error {
	perms, ok := rolePermissions[role]
	if !ok || !perms[perm] {
		return &ErrForbidden{Role: role, Permission: perm}
	}
	return nil
}

// CheckScope reports whether a caller's role/claims may act against the
// target claims (spec.md §4.8 "checkScope"): admin bypasses every
// restriction; an empty claims value (the common case for unscoped
// admin/operator tokens) grants full access; otherwise each dimension
// that is set on BOTH the caller's claims and the target must match —
// a dimension the caller doesn't restrict, or the target doesn't set,
// imposes no constraint.
func CheckScope(role Role, claims, target Claims) error {
	if role == RoleAdmin || claims.Empty() {
		return nil
	}
	for _, d := range []struct {
		name           string
		claim, targetV string
	}{
		{"project", claims.Project, target.Project},
		{"agent", claims.Agent, target.Agent},
		{"user", claims.User, target.User},
	} {
		if d.claim != "" && d.targetV != "" && d.claim != d.targetV {
			return fmt.Errorf("auth: token scoped to %s %q cannot act on %s %q", d.name, d.claim, d.name, d.targetV)
		}
	}
	return nil
}
