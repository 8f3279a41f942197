package kas

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/dashcrypt/cryptgen/internal/crypto"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var (
	signingKey = bytes.Repeat([]byte{0x2a}, 32)
	signingIV  = bytes.Repeat([]byte{0x07}, 16)
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

// widevineServer answers key requests with one key per track and crypto
// period. respond may rewrite the reply before it is sent.
func widevineServer(t *testing.T, respond func(*widevineKeyResponse)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env widevineEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg, err := base64.StdEncoding.DecodeString(env.Request)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if env.Signature != "" {
			sig, _ := base64.StdEncoding.DecodeString(env.Signature)
			if err := crypto.VerifyRequest(msg, sig, signingKey, signingIV); err != nil {
				http.Error(w, "bad signature", http.StatusForbidden)
				return
			}
		}
		var req widevineKeyRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		periods := 1
		if req.CryptoPeriodCount > 0 {
			periods = req.CryptoPeriodCount
		}
		resp := widevineKeyResponse{Status: "OK"}
		n := byte(0)
		for _, tt := range req.Tracks {
			// newest period first, the client must sort
			for p := periods - 1; p >= 0; p-- {
				n++
				kid := bytes.Repeat([]byte{n}, 16)
				header, _ := pssh.WidevineHeader{KeyIDs: []uuid.UUID{uuid.UUID(kid)}, Provider: env.Signer}.Marshal()
				resp.Tracks = append(resp.Tracks, widevineTrack{
					Type:              tt.Type,
					KeyID:             base64.StdEncoding.EncodeToString(kid),
					Key:               base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{n + 100}, 16)),
					CryptoPeriodIndex: int64(p),
					PSSH:              []widevinePSSH{{DRMType: "WIDEVINE", Data: base64.StdEncoding.EncodeToString(header)}},
				})
			}
		}
		if respond != nil {
			respond(&resp)
		}
		inner, _ := json.Marshal(resp)
		json.NewEncoder(w).Encode(widevineResponseEnvelope{Response: base64.StdEncoding.EncodeToString(inner)})
	}))
}

func newWidevine(t *testing.T, srv *httptest.Server, signed bool) *WidevineClient {
	t.Helper()
	ops := WidevineOptions{ClientOptions: ClientOptions{HttpClient: srv.Client(), Endpoint: mustURL(t, srv.URL)}}
	if signed {
		ops.Provider = "acme"
		ops.SigningKey = signingKey
		ops.SigningIV = signingIV
	}
	c, err := NewWidevineClient(ops)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestWidevineIssueKeys(t *testing.T) {
	srv := widevineServer(t, nil)
	defer srv.Close()

	for _, signed := range []bool{false, true} {
		c := newWidevine(t, srv, signed)
		got, err := c.IssueKeys(context.Background(), Request{
			ContentID: "big_buck_bunny",
			Tracks:    []TrackRequest{{ID: 2, Type: track.HD}, {ID: 1, Type: track.Audio}},
		})
		if err != nil {
			t.Fatalf("signed=%v: IssueKeys: %v", signed, err)
		}
		if len(got.Tracks) != 2 || got.Tracks[0].ID != 2 || got.Tracks[1].ID != 1 {
			t.Fatalf("signed=%v: tracks %+v", signed, got.Tracks)
		}
		for _, tr := range got.Tracks {
			if len(tr.Keys) != 1 || len(tr.Payloads) != 1 || tr.Payloads[0].SystemID != pssh.WidevineSystemID {
				t.Fatalf("signed=%v: track %+v", signed, tr)
			}
			h, err := pssh.ParseWidevineHeader(tr.Payloads[0].Data)
			if err != nil {
				t.Fatal(err)
			}
			want := WidevineTestProvider
			if signed {
				want = "acme"
			}
			if h.Provider != want {
				t.Fatalf("signed=%v: signer %q, want %q", signed, h.Provider, want)
			}
		}
	}
}

func TestWidevineRotation(t *testing.T) {
	srv := widevineServer(t, nil)
	defer srv.Close()

	got, err := newWidevine(t, srv, true).IssueKeys(context.Background(), Request{
		ContentID: "live",
		Tracks:    []TrackRequest{{ID: 1, Type: track.SD}},
		Rotation:  &Rotation{Start: 1000, Count: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	ks := got.Tracks[0].Keys
	if len(ks) != 3 {
		t.Fatalf("got %d keys, want 3", len(ks))
	}
	// the server numbers keys newest period first
	for i, want := range []byte{3, 2, 1} {
		if ks[i].ID()[0] != want {
			t.Fatalf("key %d has ID %x, want period order", i, ks[i].ID())
		}
	}
}

func TestWidevineRequestEnvelope(t *testing.T) {
	c, err := NewWidevineClient(WidevineOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint.String() != WidevineTestURL {
		t.Fatalf("default endpoint %s", c.Endpoint)
	}
	raw, err := c.BuildRequest(Request{ContentID: "abc", Tracks: []TrackRequest{{ID: 1, Type: track.SD}}, Rotation: &Rotation{Start: 0, Count: 2}})
	if err != nil {
		t.Fatal(err)
	}
	var env widevineEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Signer != WidevineTestProvider || env.Signature != "" {
		t.Fatalf("unsigned envelope %+v", env)
	}
	msg, _ := base64.StdEncoding.DecodeString(env.Request)
	var req map[string]any
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Fatal(err)
	}
	if req["content_id"] != "YWJj" || req["crypto_period_count"] != float64(2) || req["first_crypto_period_index"] != float64(0) {
		t.Fatalf("request %v", req)
	}

	if _, err := c.BuildRequest(Request{Tracks: []TrackRequest{{ID: 1}}}); err == nil {
		t.Fatal("expected an error without content ID")
	}
}

func TestWidevineErrors(t *testing.T) {
	req := Request{ContentID: "c", Tracks: []TrackRequest{{ID: 1, Type: track.SD}}}
	for _, tc := range []struct {
		name    string
		respond func(*widevineKeyResponse)
		check   func(error) bool
	}{
		{"status", func(r *widevineKeyResponse) { r.Status = "SIGNATURE_FAILED" }, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Status == "SIGNATURE_FAILED"
		}},
		{"no tracks", func(r *widevineKeyResponse) { r.Tracks = nil }, isMalformed},
		{"bad key", func(r *widevineKeyResponse) { r.Tracks[0].Key = "AAAA" }, isMalformed},
		{"bad base64", func(r *widevineKeyResponse) { r.Tracks[0].KeyID = "%%%" }, isMalformed},
		{"bad pssh", func(r *widevineKeyResponse) {
			r.Tracks[0].PSSH[0].Data = base64.StdEncoding.EncodeToString([]byte{0xff, 0xff})
		}, func(err error) bool { return isMalformed(err) && errors.Is(err, pssh.ErrMalformedPayload) }},
		{"missing type", func(r *widevineKeyResponse) { r.Tracks[0].Type = "HD" }, isMalformed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := widevineServer(t, tc.respond)
			defer srv.Close()
			_, err := newWidevine(t, srv, false).IssueKeys(context.Background(), req)
			if !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func isMalformed(err error) bool { return errors.Is(err, ErrMalformedResponse) }

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	defer srv.Close()
	_, err := newWidevine(t, srv, false).IssueKeys(context.Background(), Request{ContentID: "c", Tracks: []TrackRequest{{ID: 1, Type: track.SD}}})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTeapot || se.Body != "nope\n" {
		t.Fatalf("unexpected error %v", err)
	}
}

type memoryStore struct {
	mu    sync.Mutex
	saved map[string][]keys.Pair
}

func (m *memoryStore) LoadKeys(_ context.Context, asset string, trackID int) ([]keys.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[fmt.Sprintf("%s/%d", asset, trackID)], nil
}

func (m *memoryStore) SaveKeys(_ context.Context, asset string, trackID int, _ track.Type, pairs []keys.Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]keys.Pair)
	}
	m.saved[fmt.Sprintf("%s/%d", asset, trackID)] = pairs
	return nil
}

// drmTodayServer records ingested bodies and fails stream types in fail.
func drmTodayServer(t *testing.T, fail track.Type, bodies *[]cencKeysV2) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/frontend/api/keys/v2/ingest/acme" {
			http.NotFound(w, r)
			return
		}
		var body cencKeysV2
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*bodies = append(*bodies, body)
		if body.Assets[0].IngestKeys[0].StreamType == string(fail) {
			http.Error(w, "ingest failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func newDRMToday(t *testing.T, srv *httptest.Server, policy IngestPolicy, store KeyStore) *DRMTodayClient {
	t.Helper()
	c, err := NewDRMTodayClient(DRMTodayOptions{
		ClientOptions: ClientOptions{HttpClient: srv.Client(), Endpoint: mustURL(t, srv.URL)},
		Merchant:      "acme",
		Policy:        policy,
		Store:         store,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDRMTodayIngest(t *testing.T) {
	var bodies []cencKeysV2
	srv := drmTodayServer(t, "", &bodies)
	defer srv.Close()

	store := &memoryStore{}
	c := newDRMToday(t, srv, AbortOnError, store)
	req := Request{
		ContentID: "asset-1",
		Variant:   "v1",
		Tracks:    []TrackRequest{{ID: 1, Type: track.HD}, {ID: 2, Type: track.Audio}},
		Rotation:  &Rotation{Start: 5, Count: 2},
	}
	first, err := c.IssueKeys(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Tracks) != 2 || len(first.Tracks[0].Keys) != 2 {
		t.Fatalf("issuance %+v", first)
	}
	asset := bodies[0].Assets[0]
	if asset.Type != "CENC" || asset.AssetID != "asset-1" || asset.VariantID != "v1" || !asset.OverwriteExistingKeys {
		t.Fatalf("asset %+v", asset)
	}
	k := asset.IngestKeys[1]
	if k.StreamType != "HD" || k.Algorithm != "AES" || k.KeyRotationID == nil || *k.KeyRotationID != 6 {
		t.Fatalf("ingest key %+v", k)
	}
	if k.KeyID != first.Tracks[0].Keys[1].IDBase64() {
		t.Fatal("ingested key ID differs from issued key")
	}

	again, err := c.IssueKeys(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if again.Tracks[0].Keys[0] != first.Tracks[0].Keys[0] || again.Tracks[1].Keys[1] != first.Tracks[1].Keys[1] {
		t.Fatal("stored keys were not reused")
	}
}

func TestDRMTodayPolicy(t *testing.T) {
	req := Request{ContentID: "asset", Tracks: []TrackRequest{{ID: 1, Type: track.HD}, {ID: 2, Type: track.Audio}}}

	var bodies []cencKeysV2
	srv := drmTodayServer(t, track.HD, &bodies)
	defer srv.Close()

	_, err := newDRMToday(t, srv, AbortOnError, nil).IssueKeys(context.Background(), req)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("abort: unexpected error %v", err)
	}
	if len(bodies) != 1 {
		t.Fatalf("abort: %d ingest calls, want 1", len(bodies))
	}

	store := &memoryStore{}
	got, err := newDRMToday(t, srv, SkipFailedTracks, store).IssueKeys(context.Background(), req)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if len(got.Tracks) != 1 || got.Tracks[0].ID != 2 || len(got.Tracks[0].Keys) != 1 {
		t.Fatalf("skip: tracks %+v", got.Tracks)
	}
	if len(got.Skipped) != 1 || got.Skipped[0].ID != 1 || !errors.As(got.Skipped[0].Err, &se) {
		t.Fatalf("skip: skipped %+v", got.Skipped)
	}
	if saved, _ := store.LoadKeys(context.Background(), "asset", 1); len(saved) != 0 {
		t.Fatal("keys of a failed track were stored")
	}
}

func TestParseIngestPolicy(t *testing.T) {
	for in, want := range map[string]IngestPolicy{"": AbortOnError, "abort": AbortOnError, "SKIP": SkipFailedTracks} {
		got, err := ParseIngestPolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseIngestPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseIngestPolicy("retry"); err == nil {
		t.Fatal("expected an error")
	}
}
