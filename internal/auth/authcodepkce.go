package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRedirectAddr is where the callback server listens unless told
// otherwise. The redirect URI http://localhost:3000/callback has to be
// registered with the identity provider.
const DefaultRedirectAddr = "localhost:3000"

// AuthorizationCodePKCE runs the authorization code flow with PKCE in the
// user's browser, for operators whose client has no secret.
type AuthorizationCodePKCE struct {
	Oauth2Config *oauth2.Config
	Tokens       *oauth2.Token
	// RedirectAddr is the host:port of the local callback server.
	RedirectAddr string
	// OpenBrowser shows the authorization URL to the user.
	OpenBrowser func(url string) error
}

type callbackResult struct {
	token *oauth2.Token
	err   error
}

// Login waits for the browser to come back with an authorization code and
// exchanges it for a token.
func (acp *AuthorizationCodePKCE) Login(ctx context.Context) (*oauth2.Token, error) {
	addr := acp.RedirectAddr
	if addr == "" {
		addr = DefaultRedirectAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not start the callback server: %w", err)
	}
	conf := *acp.Oauth2Config
	conf.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr().String())

	verifier, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := randomString(16)
	if err != nil {
		return nil, err
	}

	done := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, e, http.StatusUnauthorized)
			done <- callbackResult{err: fmt.Errorf("authorization failed: %s %s", e, q.Get("error_description"))}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing authorization code", http.StatusBadRequest)
			return
		}
		token, err := conf.Exchange(r.Context(), code, oauth2.SetAuthURLParam("code_verifier", verifier))
		if err != nil {
			http.Error(w, "Failed to exchange authorization code", http.StatusInternalServerError)
			done <- callbackResult{err: fmt.Errorf("failed to exchange authorization code: %w", err)}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Return to the CLI to continue.")
		done <- callbackResult{token: token}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- callbackResult{err: err}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("callback server did not shut down", slog.Any("error", err))
		}
	}()

	url := conf.AuthCodeURL(state, oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"))
	open := acp.OpenBrowser
	if open == nil {
		open = openBrowser
	}
	if err := open(url); err != nil {
		slog.Warn("open this URL to log in", slog.String("url", url), slog.Any("error", err))
	}

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		acp.Tokens = res.token
		return res.token, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Client returns a client refreshing the token obtained by Login.
func (acp *AuthorizationCodePKCE) Client(ctx context.Context) (*http.Client, error) {
	if acp.Tokens == nil {
		return nil, errors.New("not logged in")
	}
	return acp.Oauth2Config.Client(ctx, acp.Tokens), nil
}

func openBrowser(url string) error {
	var err error

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}

	if err != nil {
		return fmt.Errorf("failed to open browser: %v", err)
	}

	return nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
