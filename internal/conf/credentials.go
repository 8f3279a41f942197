package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/oauth2"
)

const CredentialsFileName = "credentials.toml"

// Credentials are the tokens cached by login, per profile.
type Credentials struct {
	Profiles map[string]*oauth2.Token `toml:"profiles"`
}

// CredentialsPath returns $HOME/.cryptgen/credentials.toml.
func CredentialsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CredentialsFileName), nil
}

// LoadCredentials reads the token cache. A missing file is empty.
func LoadCredentials(path string) (Credentials, error) {
	creds := Credentials{Profiles: map[string]*oauth2.Token{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return creds, nil
	}
	if err != nil {
		return creds, err
	}
	if err := toml.Unmarshal(b, &creds); err != nil {
		return creds, fmt.Errorf("could not read %s: %w", path, err)
	}
	if creds.Profiles == nil {
		creds.Profiles = map[string]*oauth2.Token{}
	}
	return creds, nil
}

// Token returns the cached token of a profile if it is still valid.
func (c Credentials) Token(profile string) (*oauth2.Token, bool) {
	tok, ok := c.Profiles[profile]
	if !ok || !tok.Valid() {
		return nil, false
	}
	return tok, true
}

// SaveToken stores tok for profile, keeping the other profiles. The file is
// only readable by the owner.
func SaveToken(path, profile string, tok *oauth2.Token) error {
	creds, err := LoadCredentials(path)
	if err != nil {
		return err
	}
	creds.Profiles[profile] = tok
	b, err := toml.Marshal(creds)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
