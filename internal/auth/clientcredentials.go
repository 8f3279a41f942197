// Package auth builds authenticated HTTP clients for the key servers.
package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials runs the OAuth2 client credentials flow. Base, when
// set, is the client used to reach the token endpoint and the API.
type ClientCredentials struct {
	Config    *clientcredentials.Config
	Base      *http.Client
	UserAgent string
}

func (cc *ClientCredentials) context(ctx context.Context) context.Context {
	hc := &http.Client{Transport: &userAgentTransport{UserAgent: cc.UserAgent, Base: cc.transport()}}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

func (cc *ClientCredentials) transport() http.RoundTripper {
	if cc.Base != nil && cc.Base.Transport != nil {
		return cc.Base.Transport
	}
	return http.DefaultTransport
}

// Login fetches a token.
func (cc *ClientCredentials) Login(ctx context.Context) (*oauth2.Token, error) {
	tokens, err := cc.Config.Token(cc.context(ctx))
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Client fetches a token up front, so bad credentials fail here, and
// returns a client that refreshes it as needed.
func (cc *ClientCredentials) Client(ctx context.Context) (*http.Client, error) {
	ctx = cc.context(ctx)
	if _, err := cc.Config.Token(ctx); err != nil {
		return nil, err
	}
	return cc.Config.Client(ctx), nil
}

type userAgentTransport struct {
	UserAgent string
	Base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.UserAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.UserAgent)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
