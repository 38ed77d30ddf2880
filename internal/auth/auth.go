// Package auth manages the local API token: an env override, a
// credentials file under the user's home, and local JWT
// introspection.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	credDirName  = ".opensearch-app"
	credFileName = "credentials.json"

	// EnvToken overrides the credentials file when set.
	EnvToken = "TODO_TOKEN"
)

// TokenInfo is a stored token plus where it came from.
type TokenInfo struct {
	Token     string     `json:"token"`
	Source    string     `json:"source"`     // "env" | "file"
	CreatedAt time.Time  `json:"created_at"` // when saved to file
	ExpiresAt *time.Time `json:"expires_at"` // optional (JWT or server-provided)
}

func credDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home: %w", err)
	}
	return filepath.Join(home, credDirName), nil
}

func credFilePath() (string, error) {
	dir, err := credDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, credFileName), nil
}

// GetToken returns the active token, or nil if not logged in. The env
// var wins over the credentials file.
func GetToken() (*TokenInfo, error) {
	env := strings.TrimSpace(os.Getenv(EnvToken))
	if env != "" {
		return &TokenInfo{Token: StripBearer(env), Source: "env"}, nil
	}

	p, err := credFilePath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // not logged in
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var ti TokenInfo
	if err := json.Unmarshal(b, &ti); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	ti.Token = StripBearer(ti.Token)
	return &ti, nil
}

// SetToken writes the token to the credentials file (owner-only
// permissions).
func SetToken(token string, expires *time.Time) error {
	token = StripBearer(strings.TrimSpace(token))
	if token == "" {
		return fmt.Errorf("empty token")
	}
	dir, err := credDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	ti := TokenInfo{
		Token:     token,
		Source:    "file",
		CreatedAt: time.Now(),
		ExpiresAt: expires,
	}
	b, err := json.MarshalIndent(ti, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	p, _ := credFilePath()
	if err := os.WriteFile(p, b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// DeleteToken removes the credentials file. Already logged out is not
// an error.
func DeleteToken() error {
	p, err := credFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// Introspect decodes a JWT's claims locally, without verifying the
// signature, and returns them as indented JSON. Opaque tokens return
// an error.
func Introspect(token string) (string, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	b, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	return string(b), nil
}

// StripBearer removes a leading "Bearer " scheme, case-insensitively.
// A bare scheme word with no credential yields "".
func StripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	if strings.EqualFold(s, "bearer") {
		return ""
	}
	return s
}
