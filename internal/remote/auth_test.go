package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tiliavir/stampclock/internal/remote"
)

func accessToken(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// tokenServer answers password and refresh grants; expiresIn controls the
// lifetime of issued tokens.
func tokenServer(t *testing.T, sub string, expiresIn int, refreshes *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		switch r.Form.Get("grant_type") {
		case "password":
			if r.Form.Get("password") != "secret" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
				return
			}
		case "refresh_token":
			atomic.AddInt32(refreshes, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken(t, sub),
			"token_type":    "bearer",
			"expires_in":    expiresIn,
			"refresh_token": "refresh-1",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginStoresTokenAndOwner(t *testing.T) {
	var refreshes int32
	srv := tokenServer(t, "user-42", 3600, &refreshes)
	path := filepath.Join(t.TempDir(), "auth", "token.json")
	ctx := context.Background()

	a := remote.NewAuth(srv.URL, "", path, nil, nil)
	if _, err := a.OwnerID(ctx); !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Fatalf("OwnerID before login err = %v, want ErrNotAuthenticated", err)
	}
	if err := a.Login(ctx, "me@example.com", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("token file not written: %v", err)
	}

	// A fresh Auth reads the stored token.
	b := remote.NewAuth(srv.URL, "", path, nil, nil)
	owner, err := b.OwnerID(ctx)
	if err != nil || owner != "user-42" {
		t.Errorf("OwnerID = %q, %v; want user-42", owner, err)
	}
	tok, err := b.Token()
	if err != nil || tok.AccessToken == "" {
		t.Errorf("Token = %v, %v", tok, err)
	}
	if refreshes != 0 {
		t.Errorf("valid token should not be refreshed, refreshes = %d", refreshes)
	}

	if err := b.Logout(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.OwnerID(ctx); !errors.Is(err, remote.ErrNotAuthenticated) {
		t.Errorf("OwnerID after logout err = %v", err)
	}
}

func TestLoginRejected(t *testing.T) {
	var refreshes int32
	srv := tokenServer(t, "user-42", 3600, &refreshes)
	a := remote.NewAuth(srv.URL, "", filepath.Join(t.TempDir(), "token.json"), nil, nil)

	err := a.Login(context.Background(), "me@example.com", "wrong")
	var re *remote.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RemoteError", err)
	}
	if re.Message != "Invalid login credentials" {
		t.Errorf("Message = %q", re.Message)
	}
}

func TestExpiredTokenIsRefreshedAndSaved(t *testing.T) {
	var refreshes int32
	// Tokens expire immediately, so every Token call must refresh.
	srv := tokenServer(t, "user-7", 1, &refreshes)
	path := filepath.Join(t.TempDir(), "token.json")
	a := remote.NewAuth(srv.URL, "", path, nil, nil)
	if err := a.Login(context.Background(), "me@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	// oauth2 treats tokens within 10s of expiry as expired.
	time.Sleep(10 * time.Millisecond)
	if _, err := a.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if atomic.LoadInt32(&refreshes) == 0 {
		t.Error("expected a refresh grant")
	}
	after, _ := os.ReadFile(path)
	if string(before) == string(after) {
		t.Error("refreshed token was not persisted")
	}
}
