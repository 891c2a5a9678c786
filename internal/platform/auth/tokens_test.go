package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer("clinicdesk", testSigningKey, 15*time.Minute, 24*time.Hour)
}

func TestTokenIssuer_Issue(t *testing.T) {
	iss := newTestIssuer()
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return fixed }

	pair, err := iss.Issue(Subject{UserID: "u1", Username: "alice", Role: RoleDoctor})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		t.Fatal("expected both tokens")
	}
	if pair.Access == pair.Refresh {
		t.Error("access and refresh tokens must differ")
	}
	if !pair.AccessExpiresAt.Equal(fixed.Add(15 * time.Minute)) {
		t.Errorf("unexpected access expiry %s", pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(fixed.Add(24 * time.Hour)) {
		t.Errorf("unexpected refresh expiry %s", pair.RefreshExpiresAt)
	}
}

func TestTokenIssuer_AccessTokenPassesMiddleware(t *testing.T) {
	iss := newTestIssuer()
	pair, err := iss.Issue(Subject{UserID: "u1", Username: "alice", Role: RoleDoctor})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	cfg := iss.JWTConfig(nil)
	cfg.Skipper = nil
	rec, err := runMiddleware(t, JWTMiddleware(cfg), "Bearer "+pair.Access, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	_, err = runMiddleware(t, JWTMiddleware(cfg), "Bearer "+pair.Refresh, nil)
	assertHTTPStatus(t, err, http.StatusUnauthorized)
}

func TestTokenIssuer_ParseRefresh(t *testing.T) {
	iss := newTestIssuer()
	pair, _ := iss.Issue(Subject{UserID: "u9", Username: "bob", Role: RoleAdmin, IsSuperuser: true})

	claims, err := iss.ParseRefresh(pair.Refresh)
	if err != nil {
		t.Fatalf("ParseRefresh() error: %v", err)
	}
	if claims.Subject != "u9" || !claims.IsSuperuser || claims.ID == "" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if _, err := iss.ParseRefresh(pair.Access); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken for access token, got %v", err)
	}
	if _, err := iss.ParseRefresh("not-a-jwt"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken for garbage, got %v", err)
	}

	other := NewTokenIssuer("clinicdesk", []byte("different-key"), time.Minute, time.Hour)
	if _, err := other.ParseRefresh(pair.Refresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("expected signature failure, got %v", err)
	}
}

func TestTokenIssuer_ExpiredRefresh(t *testing.T) {
	iss := newTestIssuer()
	iss.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	pair, _ := iss.Issue(Subject{UserID: "u1", Role: RoleOperator})

	if _, err := iss.ParseRefresh(pair.Refresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("expected expired refresh to fail, got %v", err)
	}
}
