// Package auth provides credential loading and bearer token issuance
// for the Horizon web API.
package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Common errors returned by credential sources.
var (
	// ErrNoCredentials is returned when a source has no usable credentials.
	ErrNoCredentials = errors.New("credentials missing")
)

// Credentials holds a Horizon API username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Source loads API credentials from some backing store.
type Source interface {
	Load() (Credentials, error)
}

// EnvSource reads credentials from environment variables.
type EnvSource struct {
	// UserVar is the environment variable holding the username.
	UserVar string

	// PassVar is the environment variable holding the password.
	PassVar string
}

// NewEnvSource returns an EnvSource using the standard GPM_USER/GPM_PASS variables.
func NewEnvSource() EnvSource {
	return EnvSource{
		UserVar: "GPM_USER",
		PassVar: "GPM_PASS",
	}
}

// Load implements Source.
func (s EnvSource) Load() (Credentials, error) {
	creds := Credentials{
		Username: os.Getenv(s.UserVar),
		Password: os.Getenv(s.PassVar),
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("%w: set %s and %s", ErrNoCredentials, s.UserVar, s.PassVar)
	}
	return creds, nil
}

// DotenvSource reads credentials from a dotenv-style secrets file.
type DotenvSource struct {
	// Path is the dotenv file path.
	Path string

	// UserKey and PassKey are the keys inside the file (default GPM_USER/GPM_PASS).
	UserKey string
	PassKey string
}

// NewDotenvSource returns a DotenvSource for the given file path.
func NewDotenvSource(path string) DotenvSource {
	return DotenvSource{
		Path:    path,
		UserKey: "GPM_USER",
		PassKey: "GPM_PASS",
	}
}

// Load implements Source.
func (s DotenvSource) Load() (Credentials, error) {
	if s.Path == "" {
		return Credentials{}, fmt.Errorf("%w: no secrets file configured", ErrNoCredentials)
	}

	values, err := godotenv.Read(s.Path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read secrets file %s: %w", s.Path, err)
	}

	creds := Credentials{
		Username: values[s.UserKey],
		Password: values[s.PassKey],
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("%w: %s missing %s or %s", ErrNoCredentials, s.Path, s.UserKey, s.PassKey)
	}
	return creds, nil
}

// Chain tries each source in order and returns the first that succeeds.
// It mirrors the secret-store-then-environment fallback of deployments
// where a mounted secrets file may or may not be present.
type Chain []Source

// Load implements Source.
func (c Chain) Load() (Credentials, error) {
	var lastErr error
	for _, source := range c {
		creds, err := source.Load()
		if err == nil {
			return creds, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoCredentials
	}
	return Credentials{}, fmt.Errorf("all credential sources failed: %w", lastErr)
}
