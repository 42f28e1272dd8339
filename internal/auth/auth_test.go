package auth

import (
	"errors"
	"testing"
	"time"

	"billed/internal/core"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewTokenManager("0123456789abcdef", "billed", time.Hour)
	tok, err := m.Issue(core.User{Email: "a@a", Type: core.UserAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	u, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if u.Email != "a@a" || u.Type != core.UserAdmin {
		t.Fatalf("user = %+v", u)
	}
}

func TestVerifyRejects(t *testing.T) {
	m := NewTokenManager("0123456789abcdef", "billed", time.Hour)
	tok, _ := m.Issue(core.User{Email: "a@a", Type: core.UserEmployee})

	other := NewTokenManager("fedcba9876543210", "billed", time.Hour)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: %v", err)
	}

	wrongIssuer := NewTokenManager("0123456789abcdef", "someone-else", time.Hour)
	if _, err := wrongIssuer.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer: %v", err)
	}

	late := NewTokenManager("0123456789abcdef", "billed", time.Hour)
	late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := late.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: %v", err)
	}

	if _, err := m.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty token: %v", err)
	}
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("employee")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckPassword(h, "employee"); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if err := CheckPassword(h, "admin"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("mismatch: %v", err)
	}
}
