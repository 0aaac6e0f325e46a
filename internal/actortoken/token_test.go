package actortoken

import (
	"net/http/httptest"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{Secret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	token, err := m.Sign("mod-7", RoleModerator)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.Verify(token, RoleModerator)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "mod-7" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Role != RoleModerator {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
}

func TestVerifyRejectsWrongRole(t *testing.T) {
	m := newTestManager(t)
	token, err := m.Sign("worker-1", RoleWorker)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(token, RoleModerator); err == nil {
		t.Fatalf("worker token should not pass a moderator check")
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	m := newTestManager(t)
	other, err := NewManager(Options{Secret: "ffffffffffffffffffffffffffffffff"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := other.Sign("mod-1", RoleModerator)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(token, RoleModerator); err == nil {
		t.Fatalf("token signed with a different secret should fail")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, err := NewManager(Options{
		Secret: "0123456789abcdef0123456789abcdef",
		TTL:    time.Millisecond,
		Leeway: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.Sign("mod-1", RoleModerator)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.Verify(token, RoleModerator); err == nil {
		t.Fatalf("expired token should fail")
	}
}

func TestManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(Options{Secret: "short"}); err == nil {
		t.Fatalf("short secret should be rejected")
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatalf("missing header should not yield a token")
	}
	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, ok := BearerToken(r)
	if !ok || token != "abc.def.ghi" {
		t.Fatalf("unexpected token: %q ok=%v", token, ok)
	}
}
