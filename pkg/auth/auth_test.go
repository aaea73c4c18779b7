package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvSource(t *testing.T) {
	tests := []struct {
		name        string
		user        string
		pass        string
		expectError bool
	}{
		{
			name: "both set",
			user: "alice",
			pass: "secret",
		},
		{
			name:        "missing password",
			user:        "alice",
			pass:        "",
			expectError: true,
		},
		{
			name:        "missing both",
			user:        "",
			pass:        "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GPM_USER", tt.user)
			t.Setenv("GPM_PASS", tt.pass)

			creds, err := NewEnvSource().Load()

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if !errors.Is(err, ErrNoCredentials) {
					t.Errorf("Expected ErrNoCredentials, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if creds.Username != tt.user || creds.Password != tt.pass {
				t.Errorf("Credentials = %+v, want %s/%s", creds, tt.user, tt.pass)
			}
		})
	}
}

func TestDotenvSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.env")
	content := "GPM_USER=bob\nGPM_PASS=hunter2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write secrets file: %v", err)
	}

	creds, err := NewDotenvSource(path).Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if creds.Username != "bob" || creds.Password != "hunter2" {
		t.Errorf("Credentials = %+v, want bob/hunter2", creds)
	}
}

func TestDotenvSource_MissingFile(t *testing.T) {
	_, err := NewDotenvSource(filepath.Join(t.TempDir(), "nope.env")).Load()
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestChain_Fallback(t *testing.T) {
	// First source fails (missing file), second succeeds via env
	t.Setenv("GPM_USER", "carol")
	t.Setenv("GPM_PASS", "pw")

	chain := Chain{
		NewDotenvSource(filepath.Join(t.TempDir(), "absent.env")),
		NewEnvSource(),
	}

	creds, err := chain.Load()
	if err != nil {
		t.Fatalf("Chain.Load() failed: %v", err)
	}
	if creds.Username != "carol" {
		t.Errorf("Username = %q, want carol", creds.Username)
	}
}

func TestChain_AllFail(t *testing.T) {
	t.Setenv("GPM_USER", "")
	t.Setenv("GPM_PASS", "")

	chain := Chain{NewEnvSource()}
	_, err := chain.Load()
	if err == nil {
		t.Fatal("Expected error when all sources fail")
	}
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Expected ErrNoCredentials, got %v", err)
	}
}

func TestNewTokenSource_Validation(t *testing.T) {
	tests := []struct {
		name        string
		cfg         TokenConfig
		expectError bool
	}{
		{
			name: "valid",
			cfg: TokenConfig{
				TokenURL:    "http://example.com/api/Account/Token",
				Credentials: Credentials{Username: "u", Password: "p"},
			},
		},
		{
			name: "missing url",
			cfg: TokenConfig{
				Credentials: Credentials{Username: "u", Password: "p"},
			},
			expectError: true,
		},
		{
			name: "missing credentials",
			cfg: TokenConfig{
				TokenURL: "http://example.com/api/Account/Token",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenSource(tt.cfg)
			if tt.expectError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestTokenSource_IssuesAndCachesToken(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"AccessToken": "tok-123"}`))
	}))
	defer server.Close()

	ts, err := NewTokenSource(TokenConfig{
		TokenURL:    server.URL + "/api/Account/Token",
		Credentials: Credentials{Username: "u", Password: "p"},
		TokenTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenSource failed: %v", err)
	}

	tok1, err := ts.Token()
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if tok1.AccessToken != "tok-123" {
		t.Errorf("AccessToken = %q, want tok-123", tok1.AccessToken)
	}
	if tok1.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", tok1.TokenType)
	}

	// Second call should reuse the cached token, not hit the endpoint again
	tok2, err := ts.Token()
	if err != nil {
		t.Fatalf("Second Token() failed: %v", err)
	}
	if tok2.AccessToken != tok1.AccessToken {
		t.Error("Expected cached token to be reused")
	}
	if requestCount != 1 {
		t.Errorf("Token endpoint requests = %d, want 1", requestCount)
	}
}

func TestTokenSource_RejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"Message": "invalid credentials"}`))
	}))
	defer server.Close()

	ts, err := NewTokenSource(TokenConfig{
		TokenURL:    server.URL + "/api/Account/Token",
		Credentials: Credentials{Username: "u", Password: "wrong"},
	})
	if err != nil {
		t.Fatalf("NewTokenSource failed: %v", err)
	}

	if _, err := ts.Token(); err == nil {
		t.Error("Expected error for rejected credentials")
	}
}
