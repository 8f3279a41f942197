package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dashcrypt/cryptgen/internal/auth"
	"github.com/dashcrypt/cryptgen/internal/conf"
	"github.com/dashcrypt/cryptgen/internal/version"
	"github.com/dashcrypt/cryptgen/pkg/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/term"
)

// credentialsPath overrides the token cache location; empty means
// $HOME/.cryptgen/credentials.toml.
var credentialsPath string

// keyServerClient authenticates with client credentials when the profile
// has a client ID, else with a token signed by the profile's JWT secret.
// Without either the requests go out unauthenticated. A token cached by
// login is used when the profile has no client secret.
func keyServerClient(ctx context.Context, p conf.Profile, subject string) (*http.Client, error) {
	userAgent := "cryptgen/" + version.GetVersion().Version
	switch {
	case p.ClientID != "" && p.ClientSecret == "":
		if tok, ok := cachedToken(); ok {
			slog.Debug("using cached token", slog.String("profile", profileName))
			return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)), nil
		}
		fallthrough
	case p.ClientID != "":
		if p.ClientSecret == "" {
			secret, err := readSecret(fmt.Sprintf("Client secret for %s: ", p.ClientID))
			if err != nil {
				return nil, err
			}
			p.ClientSecret = secret
		}
		c, err := oidc.NewOidcClient(ctx, oidc.OidcConfig{
			ClientID:          p.ClientID,
			ClientSecret:      p.ClientSecret,
			TokenURL:          p.TokenURL,
			DiscoveryEndpoint: p.OidcDiscoveryEndpoint,
			UserAgent:         userAgent,
		})
		if err != nil {
			return nil, err
		}
		return c.Client(ctx)
	case p.JWTSecret != "":
		st := &auth.SignedToken{Issuer: "cryptgen", Subject: subject, Secret: []byte(p.JWTSecret)}
		return st.Client(), nil
	}
	slog.Warn("no client credentials or JWT secret configured, key server requests are unauthenticated")
	return &http.Client{Timeout: 30 * time.Second}, nil
}

func cachedToken() (*oauth2.Token, bool) {
	path := credentialsPath
	if path == "" {
		var err error
		if path, err = conf.CredentialsPath(); err != nil {
			return nil, false
		}
	}
	creds, err := conf.LoadCredentials(path)
	if err != nil {
		slog.Warn("ignoring token cache", slog.String("path", path), slog.Any("error", err))
		return nil, false
	}
	return creds.Token(profileName)
}

// readSecret prompts on the terminal without echo.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("client secret is not configured and stdin is not a terminal; set CRYPTGEN_CLIENTSECRET")
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}
