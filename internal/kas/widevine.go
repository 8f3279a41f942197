package kas

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/dashcrypt/cryptgen/internal/crypto"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/goccy/go-json"
)

const (
	// WidevineTestProvider is used for unsigned requests.
	WidevineTestProvider = "widevine_test"
	WidevineTestURL      = "https://license.uat.widevine.com/cenc/getcontentkey/widevine_test"
)

// WidevineClient requests content keys from a Widevine key server. Requests
// are signed when both a signing key and IV are set.
type WidevineClient struct {
	*Client
	Provider   string
	SigningKey []byte
	SigningIV  []byte
	Policy     string
}

type WidevineOptions struct {
	ClientOptions
	Provider   string
	SigningKey []byte
	SigningIV  []byte
	Policy     string
}

func NewWidevineClient(ops WidevineOptions) (*WidevineClient, error) {
	if ops.Endpoint == nil {
		u, err := url.Parse(WidevineTestURL)
		if err != nil {
			return nil, err
		}
		ops.Endpoint = u
	}
	if ops.HttpClient == nil {
		ops.HttpClient = defaultHTTPClient()
	}
	c, err := NewClient(ops.ClientOptions)
	if err != nil {
		return nil, err
	}
	wv := &WidevineClient{
		Client:     c,
		Provider:   ops.Provider,
		SigningKey: ops.SigningKey,
		SigningIV:  ops.SigningIV,
		Policy:     ops.Policy,
	}
	if wv.Provider == "" {
		wv.Provider = WidevineTestProvider
	}
	return wv, nil
}

func (c *WidevineClient) signed() bool {
	return len(c.SigningKey) > 0 && len(c.SigningIV) > 0
}

type widevineTrackType struct {
	Type string `json:"type"`
}

type widevineKeyRequest struct {
	ContentID              string              `json:"content_id"`
	Tracks                 []widevineTrackType `json:"tracks"`
	DRMTypes               []string            `json:"drm_types"`
	Policy                 string              `json:"policy,omitempty"`
	CryptoPeriodCount      int                 `json:"crypto_period_count,omitempty"`
	FirstCryptoPeriodIndex *int64              `json:"first_crypto_period_index,omitempty"`
}

type widevineEnvelope struct {
	Request   string `json:"request"`
	Signature string `json:"signature,omitempty"`
	Signer    string `json:"signer"`
}

type widevineResponseEnvelope struct {
	Response string `json:"response"`
}

type widevinePSSH struct {
	DRMType string `json:"drm_type"`
	Data    string `json:"data"`
}

type widevineTrack struct {
	Type              string         `json:"type"`
	KeyID             string         `json:"key_id"`
	Key               string         `json:"key"`
	PSSH              []widevinePSSH `json:"pssh"`
	CryptoPeriodIndex int64          `json:"crypto_period_index"`
}

type widevineKeyResponse struct {
	Status string          `json:"status"`
	Tracks []widevineTrack `json:"tracks"`
}

// BuildRequest returns the envelope posted for req.
func (c *WidevineClient) BuildRequest(req Request) ([]byte, error) {
	if req.ContentID == "" {
		return nil, errors.New("content ID is required")
	}
	if len(req.Tracks) == 0 {
		return nil, errors.New("at least one track is required")
	}
	body := widevineKeyRequest{
		ContentID: base64.StdEncoding.EncodeToString([]byte(req.ContentID)),
		DRMTypes:  []string{"WIDEVINE"},
		Policy:    c.Policy,
	}
	for _, t := range req.Tracks {
		body.Tracks = append(body.Tracks, widevineTrackType{Type: string(t.Type)})
	}
	if req.Rotation != nil {
		start := req.Rotation.Start
		body.CryptoPeriodCount = req.Rotation.Count
		body.FirstCryptoPeriodIndex = &start
	}
	msg, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	env := widevineEnvelope{
		Request: base64.StdEncoding.EncodeToString(msg),
		Signer:  c.Provider,
	}
	if c.signed() {
		sig, err := crypto.SignRequest(msg, c.SigningKey, c.SigningIV)
		if err != nil {
			return nil, fmt.Errorf("sign key request: %w", err)
		}
		env.Signature = base64.StdEncoding.EncodeToString(sig)
	} else {
		env.Signer = WidevineTestProvider
	}
	return json.Marshal(env)
}

// IssueKeys requests keys for every track in one call. With rotation the
// server answers one entry per crypto period; they are ordered by period.
func (c *WidevineClient) IssueKeys(ctx context.Context, req Request) (*Issuance, error) {
	env, err := c.BuildRequest(req)
	if err != nil {
		return nil, err
	}
	slog.Debug("widevine key request", slog.String("content_id", req.ContentID), slog.Int("tracks", len(req.Tracks)), slog.Bool("signed", c.signed()))

	var reply widevineResponseEnvelope
	if err := c.postJSON(ctx, "", json.RawMessage(env), &reply); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(reply.Response)
	if err != nil {
		return nil, fmt.Errorf("%w: response is not base64: %v", ErrMalformedResponse, err)
	}
	var resp widevineKeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Status != "OK" {
		return nil, &StatusError{StatusCode: 200, Status: resp.Status}
	}
	return issuanceFromWidevine(req, resp.Tracks)
}

func issuanceFromWidevine(req Request, tracks []widevineTrack) (*Issuance, error) {
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no tracks", ErrMalformedResponse)
	}
	byType := make(map[track.Type][]widevineTrack)
	for _, t := range tracks {
		byType[track.Type(t.Type)] = append(byType[track.Type(t.Type)], t)
	}

	out := &Issuance{}
	for _, want := range req.Tracks {
		got := byType[want.Type]
		if len(got) == 0 {
			return nil, fmt.Errorf("%w: no keys for track %d (%s)", ErrMalformedResponse, want.ID, want.Type)
		}
		sort.SliceStable(got, func(i, j int) bool { return got[i].CryptoPeriodIndex < got[j].CryptoPeriodIndex })

		issued := IssuedTrack{ID: want.ID, Type: want.Type}
		for _, t := range got {
			pair, err := widevinePair(t)
			if err != nil {
				return nil, fmt.Errorf("track %d: %w", want.ID, err)
			}
			issued.Keys = append(issued.Keys, pair)
			for _, p := range t.PSSH {
				payload, ok, err := widevinePayload(p)
				if err != nil {
					return nil, fmt.Errorf("track %d: %w", want.ID, err)
				}
				if ok {
					issued.Payloads = append(issued.Payloads, payload)
				}
			}
		}
		out.Tracks = append(out.Tracks, issued)
	}
	return out, nil
}

func widevinePair(t widevineTrack) (keys.Pair, error) {
	id, err := base64.StdEncoding.DecodeString(t.KeyID)
	if err != nil {
		return keys.Pair{}, fmt.Errorf("%w: key_id: %v", ErrMalformedResponse, err)
	}
	key, err := base64.StdEncoding.DecodeString(t.Key)
	if err != nil {
		return keys.Pair{}, fmt.Errorf("%w: key: %v", ErrMalformedResponse, err)
	}
	pair, err := keys.New(id, key)
	if err != nil {
		return keys.Pair{}, errors.Join(ErrMalformedResponse, err)
	}
	return pair, nil
}

// widevinePayload decodes and checks one pssh entry. Entries for systems
// other than Widevine and PlayReady are ignored.
func widevinePayload(p widevinePSSH) (Payload, bool, error) {
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return Payload{}, false, fmt.Errorf("%w: pssh data: %v", ErrMalformedResponse, err)
	}
	switch p.DRMType {
	case "WIDEVINE", "widevine":
		if _, err := pssh.ParseWidevineHeader(data); err != nil {
			return Payload{}, false, errors.Join(ErrMalformedResponse, err)
		}
		return Payload{SystemID: pssh.WidevineSystemID, Data: data}, true, nil
	case "PLAYREADY", "playready":
		if _, err := pssh.ParsePlayReadyObject(data); err != nil {
			return Payload{}, false, errors.Join(ErrMalformedResponse, err)
		}
		return Payload{SystemID: pssh.PlayReadySystemID, Data: data}, true, nil
	}
	slog.Debug("ignoring pssh entry", slog.String("drm_type", p.DRMType))
	return Payload{}, false, nil
}
