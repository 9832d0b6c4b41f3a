package auth_test

import (
	"testing"

	"github.com/memento-core/daemon/internal/auth"
)

func TestResolveLocalMode(t *testing.T) {
	p := auth.NewPolicy(auth.ModeLocal, "secret-token", nil)

	role, claims, err := p.Resolve("secret-token")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if role != auth.RoleAdmin || !claims.Empty() {
		t.Errorf("Resolve = (%v, %+v), want (admin, empty)", role, claims)
	}

	if _, _, err := p.Resolve("wrong-token"); err == nil {
		t.Fatal("expected ErrUnauthorized for a mismatched token")
	}
}

func TestResolveLocalNoTokenAllowsAnything(t *testing.T) {
	p := auth.NewPolicy(auth.ModeLocalNoToken, "", nil)
	role, _, err := p.Resolve("")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if role != auth.RoleAdmin {
		t.Errorf("role = %v, want admin", role)
	}
}

func TestResolveTeamModeLooksUpIdentity(t *testing.T) {
	identities := []auth.TokenIdentity{
		{Token: "agent-tok", Role: auth.RoleAgent, Claims: auth.Claims{Project: "my-project"}},
		{Token: "ro-tok", Role: auth.RoleReadonly},
	}
	p := auth.NewPolicy(auth.ModeTeam, "", identities)

	role, claims, err := p.Resolve("agent-tok")
	if err != nil || role != auth.RoleAgent || claims.Project != "my-project" {
		t.Fatalf("Resolve(agent-tok) = (%v, %+v, %v), want (agent, {Project: my-project}, nil)", role, claims, err)
	}

	if _, _, err := p.Resolve("unknown-tok"); err == nil {
		t.Fatal("expected ErrUnauthorized for an unrecognized token")
	}
}

func TestCheckPermission(t *testing.T) {
	if err := auth.CheckPermission(auth.RoleAdmin, auth.PermConnectors); err != nil {
		t.Errorf("admin should have connectors permission: %v", err)
	}
	if err := auth.CheckPermission(auth.RoleReadonly, auth.PermForget); err == nil {
		t.Error("readonly should not have forget permission")
	}
	if err := auth.CheckPermission(auth.RoleAgent, auth.PermRecall); err != nil {
		t.Errorf("agent should have recall permission: %v", err)
	}
}

func TestCheckScope(t *testing.T) {
	if err := auth.CheckScope(auth.RoleAgent, auth.Claims{}, auth.Claims{Project: "any-project"}); err != nil {
		t.Errorf("unrestricted claims should allow any project: %v", err)
	}
	if err := auth.CheckScope(auth.RoleAgent, auth.Claims{Project: "proj-a"}, auth.Claims{Project: "proj-a"}); err != nil {
		t.Errorf("matching scope should be allowed: %v", err)
	}
	if err := auth.CheckScope(auth.RoleAgent, auth.Claims{Project: "proj-a"}, auth.Claims{Project: "proj-b"}); err == nil {
		t.Error("mismatched scope should be rejected")
	}
	if err := auth.CheckScope(auth.RoleAdmin, auth.Claims{Project: "proj-a"}, auth.Claims{Project: "proj-b"}); err != nil {
		t.Errorf("admin should bypass scope restrictions: %v", err)
	}
}

func TestRateLimiterEnforcesBudget(t *testing.T) {
	rl := auth.NewRateLimiter(5, 2)
	allowed := 0
	var lastResult auth.Result
	for i := 0; i < 10; i++ {
		lastResult = rl.Allow("key-1")
		if lastResult.Allowed {
			allowed++
		}
	}
	if allowed == 0 || allowed >= 10 {
		t.Errorf("allowed = %d, want somewhere between 1 and 9 with burst=2", allowed)
	}
	if lastResult.ResetAt.IsZero() {
		t.Error("expected a non-zero ResetAt")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := auth.NewRateLimiter(5, 1)
	r1 := rl.Allow("key-a")
	r2 := rl.Allow("key-b")
	if !r1.Allowed || !r2.Allowed {
		t.Error("first request for two distinct keys should both be allowed")
	}
}
