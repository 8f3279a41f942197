package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dashcrypt/cryptgen/internal/auth"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type OidcConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL is used as is when set; otherwise it is discovered.
	TokenURL          string
	DiscoveryEndpoint string
	Scopes            []string
	HTTPClient        *http.Client
	UserAgent         string
	// RedirectAddr is the local callback address of the browser login.
	RedirectAddr string
}

type Client interface {
	Login(ctx context.Context) (*oauth2.Token, error)
	Client(ctx context.Context) (*http.Client, error)
}

type discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

func NewOidcClient(ctx context.Context, conf OidcConfig) (Client, error) {
	if conf.ClientID == "" || conf.ClientSecret == "" {
		return nil, errors.New("client ID and client secret are required")
	}
	tokenURL := conf.TokenURL
	if tokenURL == "" {
		if conf.DiscoveryEndpoint == "" {
			return nil, errors.New("either a token URL or an OIDC discovery endpoint is required")
		}
		endpoints, err := DiscoverEndpoints(ctx, conf.HTTPClient, conf.DiscoveryEndpoint)
		if err != nil {
			return nil, err
		}
		tokenURL = endpoints.TokenURL
	}
	return &auth.ClientCredentials{
		Config: &clientcredentials.Config{
			ClientID:     conf.ClientID,
			ClientSecret: conf.ClientSecret,
			Scopes:       conf.Scopes,
			TokenURL:     tokenURL,
		},
		Base:      conf.HTTPClient,
		UserAgent: conf.UserAgent,
	}, nil
}

// NewBrowserClient logs in through the browser with the authorization code
// flow and PKCE. The client secret is optional.
func NewBrowserClient(ctx context.Context, conf OidcConfig) (Client, error) {
	if conf.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if conf.DiscoveryEndpoint == "" {
		return nil, errors.New("an OIDC discovery endpoint is required for browser login")
	}
	endpoints, err := DiscoverEndpoints(ctx, conf.HTTPClient, conf.DiscoveryEndpoint)
	if err != nil {
		return nil, err
	}
	if endpoints.AuthURL == "" {
		return nil, fmt.Errorf("discovery document at %s has no authorization_endpoint", conf.DiscoveryEndpoint)
	}
	scopes := conf.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "offline_access"}
	}
	return &auth.AuthorizationCodePKCE{
		Oauth2Config: &oauth2.Config{
			ClientID:     conf.ClientID,
			ClientSecret: conf.ClientSecret,
			Endpoint:     *endpoints,
			Scopes:       scopes,
		},
		RedirectAddr: conf.RedirectAddr,
	}, nil
}

// DiscoverEndpoints reads the authorization and token endpoints from an
// OpenID Connect discovery document.
func DiscoverEndpoints(ctx context.Context, hc *http.Client, wellKnown string) (*oauth2.Endpoint, error) {
	var (
		d         = new(discovery)
		endpoints = new(oauth2.Endpoint)
	)
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not get discovery endpoint: %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(d)
	if err != nil {
		return nil, err
	}
	if d.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery document at %s has no token_endpoint", wellKnown)
	}
	endpoints.AuthURL = d.AuthorizationEndpoint
	endpoints.TokenURL = d.TokenEndpoint
	return endpoints, nil
}
