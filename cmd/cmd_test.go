package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dashcrypt/cryptgen/internal/conf"
	"github.com/dashcrypt/cryptgen/internal/kas"
	"github.com/dashcrypt/cryptgen/pkg/cryptfile"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2"
)

const (
	testKID = "11111111-1111-1111-1111-111111111111"
	testKey = "000102030405060708090a0b0c0d0e0f"
)

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
}

// run executes the root command with a fresh config file and returns stdout
// and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(cfg, []byte("profiles:\n  default:\n    merchant: acme\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	resetFlags(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		resetFlags(c.Flags())
	}
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestParseRoll(t *testing.T) {
	tests := []struct {
		in      string
		want    rollFlag
		wantErr bool
	}{
		{"", rollFlag{}, false},
		{"96", rollFlag{samples: 96}, false},
		{"3, 4, 240", rollFlag{start: 3, count: 4, samples: 240}, false},
		{"1,2", rollFlag{}, true},
		{"a,2,3", rollFlag{}, true},
		{"-1", rollFlag{}, true},
	}
	for _, tt := range tests {
		got, err := parseRoll(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseRoll(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("parseRoll(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseTrackArg(t *testing.T) {
	id, typ, err := parseTrackArg("2:AUDIO")
	if err != nil || id != 2 || typ != track.Audio {
		t.Fatalf("parseTrackArg(2:AUDIO) = %d %q %v", id, typ, err)
	}
	id, typ, err = parseTrackArg("3")
	if err != nil || id != 3 || typ != track.Unspecified {
		t.Fatalf("parseTrackArg(3) = %d %q %v", id, typ, err)
	}
	for _, bad := range []string{"0:HD", "x:HD", "1:4K"} {
		if _, _, err := parseTrackArg(bad); err == nil {
			t.Fatalf("parseTrackArg(%q): expected an error", bad)
		}
	}
}

func TestParseClearKeyArg(t *testing.T) {
	id, pairs, err := parseClearKeyArg("1:" + testKID + "=" + testKey + ",22222222222222222222222222222222=" + testKey)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 || len(pairs) != 2 || pairs[0].UUID().String() != testKID {
		t.Fatalf("parseClearKeyArg = %d %v", id, pairs)
	}

	keyFile := filepath.Join(t.TempDir(), "video.keys")
	body := "# video\n" + testKID + ":" + testKey + "\n\n33333333333333333333333333333333:" + testKey + "\n"
	if err := os.WriteFile(keyFile, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	id, pairs, err = parseClearKeyArg("4:@" + keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if id != 4 || len(pairs) != 2 {
		t.Fatalf("key file: %d %v", id, pairs)
	}

	for _, bad := range []string{"1", "1:", "x:" + testKID + "=" + testKey, "1:" + testKID, "1:@" + filepath.Join(t.TempDir(), "missing")} {
		if _, _, err := parseClearKeyArg(bad); err == nil {
			t.Fatalf("parseClearKeyArg(%q): expected an error", bad)
		}
	}
}

func TestClearKeyCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "drm.xml")
	stdout, stderr, err := run(t, "clearkey", "--out", out, "--cp", "1:"+testKID+"="+testKey)
	if err != nil {
		t.Fatalf("clearkey: %v\n%s", err, stderr)
	}
	for _, want := range []string{
		`<GPACDRM type="CENC AES-CTR">`,
		`<key KID="0x11111111111111111111111111111111" value="0x000102030405060708090a0b0c0d0e0f">`,
		cpBanner,
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stderr, "Ensure the following keys are available to the client:") {
		t.Fatalf("key table missing from stderr:\n%s", stderr)
	}

	doc, err := cryptfile.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.DRMInfos()) != 1 || len(doc.Tracks()) != 1 {
		t.Fatalf("written document has %d systems and %d tracks", len(doc.DRMInfos()), len(doc.Tracks()))
	}

	stdout, _, err = run(t, "inspect", "--keys", out)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"Scheme: CENC AES-CTR", "Tracks", "0x11111111111111111111111111111111", "0x000102030405060708090a0b0c0d0e0f"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, stdout)
		}
	}
}

func TestClearKeyCommandErrors(t *testing.T) {
	tests := [][]string{
		{"clearkey", "1:" + testKID + "=" + testKey, "1:" + testKID + "=" + testKey},
		{"clearkey", "--scheme", "cbcs", "1:" + testKID + "=" + testKey},
		{"clearkey", "--iv-size", "12", "1:" + testKID + "=" + testKey},
		{"clearkey", "1:nokey"},
	}
	for _, args := range tests {
		if _, _, err := run(t, args...); err == nil {
			t.Fatalf("%v: expected an error", args)
		}
	}
}

// widevineKeyServer answers signed key requests with one key and one
// Widevine pssh per track. It counts the requests it receives.
func widevineKeyServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var env struct {
			Request   string `json:"request"`
			Signature string `json:"signature"`
			Signer    string `json:"signer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if env.Signer != "acme" || env.Signature == "" {
			http.Error(w, "unsigned", http.StatusForbidden)
			return
		}
		raw, _ := base64.StdEncoding.DecodeString(env.Request)
		var req struct {
			Tracks []struct {
				Type string `json:"type"`
			} `json:"tracks"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type wvPSSH struct {
			DRMType string `json:"drm_type"`
			Data    string `json:"data"`
		}
		type wvTrack struct {
			Type  string   `json:"type"`
			KeyID string   `json:"key_id"`
			Key   string   `json:"key"`
			PSSH  []wvPSSH `json:"pssh"`
		}
		resp := struct {
			Status string    `json:"status"`
			Tracks []wvTrack `json:"tracks"`
		}{Status: "OK"}
		for i, tr := range req.Tracks {
			kid := bytes.Repeat([]byte{byte(0xa0 + i)}, 16)
			key := bytes.Repeat([]byte{byte(i + 1)}, 16)
			header, err := pssh.WidevineHeader{
				Algorithm: pssh.WidevineAESCTR,
				KeyIDs:    []uuid.UUID{uuid.UUID(kid)},
				Provider:  "acme",
			}.Marshal()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp.Tracks = append(resp.Tracks, wvTrack{
				Type:  tr.Type,
				KeyID: base64.StdEncoding.EncodeToString(kid),
				Key:   base64.StdEncoding.EncodeToString(key),
				PSSH:  []wvPSSH{{DRMType: "WIDEVINE", Data: base64.StdEncoding.EncodeToString(header)}},
			})
		}
		inner, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"response": base64.StdEncoding.EncodeToString(inner)})
	}))
	return srv, &hits
}

func writeSigningProperties(t *testing.T, url string) string {
	t.Helper()
	props := filepath.Join(t.TempDir(), "wv.properties")
	body := "url=" + url + "\n" +
		"key=" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)) + "\n" +
		"iv=" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 16)) + "\n" +
		"provider=acme\n"
	if err := os.WriteFile(props, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return props
}

// systemID returns the system ID of a pssh DRMInfo node.
func systemID(t *testing.T, info cryptfile.DRMInfo) uuid.UUID {
	t.Helper()
	for _, f := range info.Fields {
		if f.IsID128() {
			id, err := uuid.FromBytes(f.Bytes())
			if err != nil {
				t.Fatal(err)
			}
			return id
		}
	}
	t.Fatalf("no system ID in %+v", info)
	return uuid.Nil
}

func TestWidevineCommand(t *testing.T) {
	srv, hits := widevineKeyServer(t)
	defer srv.Close()
	props := writeSigningProperties(t, srv.URL)

	stdout, stderr, err := run(t, "widevine", "--sign", props, "--ck", "my-movie", "1:HD", "2:AUDIO")
	if err != nil {
		t.Fatalf("widevine: %v\n%s", err, stderr)
	}
	if hits.Load() != 1 {
		t.Fatalf("got %d key requests, want 1", hits.Load())
	}
	doc, err := cryptfile.Read(strings.NewReader(stdout))
	if err != nil {
		t.Fatalf("stdout is not a cryptfile: %v\n%s", err, stdout)
	}
	tracks := doc.Tracks()
	if len(tracks) != 2 || tracks[0].Keys[0].KID != "0xa0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0" || tracks[1].Keys[0].KID != "0xa1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1" {
		t.Fatalf("tracks %+v", tracks)
	}

	// one widevine system per track, then clearkey
	infos := doc.DRMInfos()
	want := []uuid.UUID{pssh.WidevineSystemID, pssh.WidevineSystemID, pssh.ClearKeySystemID}
	if len(infos) != len(want) {
		t.Fatalf("got %d systems, want %d", len(infos), len(want))
	}
	for i, info := range infos {
		if got := systemID(t, info); got != want[i] {
			t.Fatalf("system %d = %s, want %s", i, pssh.Name(got), pssh.Name(want[i]))
		}
	}
	for i, kid := range []byte{0xa0, 0xa1} {
		data := infos[i].Fields[len(infos[i].Fields)-1].Bytes()
		h, err := pssh.ParseWidevineHeader(data)
		if err != nil {
			t.Fatalf("system %d: %v", i, err)
		}
		if len(h.KeyIDs) != 1 || h.KeyIDs[0] != uuid.UUID(bytes.Repeat([]byte{kid}, 16)) {
			t.Fatalf("system %d key IDs %v", i, h.KeyIDs)
		}
	}
}

func TestWidevineCommandRejectsTracksBeforeRequest(t *testing.T) {
	srv, hits := widevineKeyServer(t)
	defer srv.Close()
	props := writeSigningProperties(t, srv.URL)

	tests := []struct {
		name    string
		tracks  []string
		wantErr error
	}{
		{"same category", []string{"1:HD", "2:HD"}, track.ErrTypeConflict},
		{"audio and muxed", []string{"1:AUDIO", "2:VIDEO_AUDIO"}, track.ErrTypeConflict},
		{"video and sd", []string{"1:SD", "2:VIDEO"}, track.ErrTypeConflict},
		{"duplicate id", []string{"1:HD", "1:AUDIO"}, cryptfile.ErrDuplicateTrack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"widevine", "--sign", props, "my-movie"}, tt.tracks...)
			_, _, err := run(t, args...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if hits.Load() != 0 {
				t.Fatalf("key server saw %d requests", hits.Load())
			}
		})
	}

	var conflict *track.ConflictError
	_, _, err := run(t, "widevine", "--sign", props, "my-movie", "2:AUDIO", "1:UHD", "3:VIDEO_AUDIO")
	if !errors.As(err, &conflict) || conflict.TrackID != 3 || conflict.Existing != track.Audio {
		t.Fatalf("err = %v", err)
	}

	// drmtoday rejects the tracks before it looks at the profile
	if _, _, err := run(t, "drmtoday", "my-movie", "1:AUDIO", "2:VIDEO_AUDIO"); !errors.Is(err, track.ErrTypeConflict) {
		t.Fatalf("drmtoday err = %v", err)
	}
}

func TestParseTrackArgs(t *testing.T) {
	reqs, err := parseTrackArgs([]string{"1:HD", "2:AUDIO", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 3 || reqs[0].Type != track.HD || reqs[1].Type != track.Audio || reqs[2].Type != track.Unspecified {
		t.Fatalf("requests %+v", reqs)
	}
	if _, err := parseTrackArgs([]string{"1", "2", "3:UHD"}); err != nil {
		t.Fatalf("unspecified types never conflict: %v", err)
	}
}

func TestWidevineSystems(t *testing.T) {
	wv := func(b byte) []byte {
		h, err := pssh.WidevineHeader{KeyIDs: []uuid.UUID{uuid.UUID(bytes.Repeat([]byte{b}, 16))}, Provider: "acme"}.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		return h
	}
	issued := &kas.Issuance{Tracks: []kas.IssuedTrack{
		{ID: 1, Type: track.HD, Payloads: []kas.Payload{{SystemID: pssh.WidevineSystemID, Data: wv(1)}}},
		{ID: 2, Type: track.Audio, Payloads: []kas.Payload{
			{SystemID: pssh.WidevineSystemID, Data: wv(2)},
			{SystemID: pssh.WidevineSystemID, Data: wv(1)},
		}},
	}}
	systems, err := widevineSystems(issued, nil, "acme", "my-movie")
	if err != nil {
		t.Fatal(err)
	}
	if len(systems) != 2 {
		t.Fatalf("got %d systems, want one per distinct payload", len(systems))
	}
	for i, s := range systems {
		c, err := pssh.Compose(s)
		if err != nil {
			t.Fatal(err)
		}
		body, err := c.Body()
		if err != nil {
			t.Fatal(err)
		}
		h, err := pssh.ParseWidevineHeader(body[len(body)-1].Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if want := uuid.UUID(bytes.Repeat([]byte{byte(i + 1)}, 16)); h.KeyIDs[0] != want {
			t.Fatalf("system %d key ID %s, want %s", i, h.KeyIDs[0], want)
		}
	}

	// without a widevine payload the header is built from the track keys
	systems, err = widevineSystems(&kas.Issuance{Tracks: []kas.IssuedTrack{{ID: 1}}}, nil, "acme", "my-movie")
	if err != nil {
		t.Fatal(err)
	}
	if len(systems) != 1 || systems[0].SystemID() != pssh.WidevineSystemID {
		t.Fatalf("systems %v", systems)
	}
}

func TestKeyServerClientCachedToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	credentialsPath = filepath.Join(t.TempDir(), conf.CredentialsFileName)
	defer func() { credentialsPath = "" }()
	tok := &oauth2.Token{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := conf.SaveToken(credentialsPath, profileName, tok); err != nil {
		t.Fatal(err)
	}

	hc, err := keyServerClient(context.Background(), conf.Profile{ClientID: "cryptgen"}, "acme")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := hc.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer cached" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := run(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, `"version":"dev"`) {
		t.Fatalf("version output %s", stdout)
	}
}

func TestRootLogging(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	_, stderr, err := run(t, "--log-level", "debug", "--log-format", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	line, _, _ := strings.Cut(stderr, "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("stderr is not JSON: %v\n%s", err, stderr)
	}
	if entry["msg"] != "config loaded" || entry["level"] != "DEBUG" {
		t.Fatalf("log entry %v", entry)
	}

	if _, _, err := run(t, "--log-format", "xml", "version"); err == nil {
		t.Fatal("expected an unsupported log format error")
	}
}

func TestLoginCommand(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"issuer": srv.URL, "token_endpoint": srv.URL + "/token"})
		case "/token":
			if id, secret, ok := r.BasicAuth(); !ok || id != "cryptgen" || secret != "s3cret" {
				http.Error(w, "bad client", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","expires_in":3600}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	credentialsPath = filepath.Join(t.TempDir(), conf.CredentialsFileName)
	defer func() { credentialsPath = "" }()

	stdout, stderr, err := run(t, "login", "--client-id", "cryptgen", "--client-secret", "s3cret",
		"--oidc-endpoint", srv.URL+"/.well-known/openid-configuration")
	if err != nil {
		t.Fatalf("login: %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, credentialsPath) {
		t.Fatalf("login output %q", stdout)
	}
	creds, err := conf.LoadCredentials(credentialsPath)
	if err != nil {
		t.Fatal(err)
	}
	if tok, ok := creds.Token(conf.DefaultProfile); !ok || tok.AccessToken != "fresh" {
		t.Fatalf("cached token %+v", tok)
	}
}
