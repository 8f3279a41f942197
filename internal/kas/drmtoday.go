package kas

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/dashcrypt/cryptgen/internal/crypto"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/dashcrypt/cryptgen/pkg/track"
)

const drmTodayIngestPath = "frontend/api/keys/v2/ingest"

// KeyStore keeps generated keys so an asset packaged again reuses its KIDs.
type KeyStore interface {
	LoadKeys(ctx context.Context, asset string, trackID int) ([]keys.Pair, error)
	SaveKeys(ctx context.Context, asset string, trackID int, typ track.Type, pairs []keys.Pair) error
}

// DRMTodayClient generates keys locally and ingests them into DRMToday, one
// request per track.
type DRMTodayClient struct {
	*Client
	Merchant string
	Policy   IngestPolicy
	Store    KeyStore
	Rand     io.Reader
}

type DRMTodayOptions struct {
	ClientOptions
	Merchant string
	Policy   IngestPolicy
	Store    KeyStore
}

func NewDRMTodayClient(ops DRMTodayOptions) (*DRMTodayClient, error) {
	if ops.Merchant == "" {
		return nil, errors.New("drmtoday merchant is required")
	}
	if ops.HttpClient == nil {
		ops.HttpClient = defaultHTTPClient()
	}
	c, err := NewClient(ops.ClientOptions)
	if err != nil {
		return nil, err
	}
	return &DRMTodayClient{
		Client:   c,
		Merchant: ops.Merchant,
		Policy:   ops.Policy,
		Store:    ops.Store,
		Rand:     crypto.Reader,
	}, nil
}

type cencKeysV2 struct {
	Assets []cencAsset `json:"assets"`
}

type cencAsset struct {
	Type                  string      `json:"type"`
	AssetID               string      `json:"assetId"`
	VariantID             string      `json:"variantId,omitempty"`
	OverwriteExistingKeys bool        `json:"overwriteExistingKeys"`
	IngestKeys            []ingestKey `json:"ingestKeys"`
}

type ingestKey struct {
	StreamType    string `json:"streamType,omitempty"`
	KeyRotationID *int64 `json:"keyRotationId,omitempty"`
	KeyID         string `json:"keyId"`
	Key           string `json:"key"`
	Algorithm     string `json:"algorithm"`
	IV            string `json:"iv"`
}

// IssueKeys generates, or loads from the store, the keys of each track and
// ingests them. Failures follow the client's IngestPolicy.
func (c *DRMTodayClient) IssueKeys(ctx context.Context, req Request) (*Issuance, error) {
	if req.ContentID == "" {
		return nil, errors.New("asset ID is required")
	}
	out := &Issuance{}
	for _, t := range req.Tracks {
		pairs, err := c.ingestTrack(ctx, req, t)
		if err != nil {
			if c.Policy == AbortOnError {
				return nil, fmt.Errorf("track %d (%s): %w", t.ID, t.Type, err)
			}
			slog.Warn("skipping track after failed ingest", slog.Int("track", t.ID), slog.String("type", string(t.Type)), slog.Any("error", err))
			out.Skipped = append(out.Skipped, SkippedTrack{ID: t.ID, Type: t.Type, Err: err})
			continue
		}
		out.Tracks = append(out.Tracks, IssuedTrack{ID: t.ID, Type: t.Type, Keys: pairs})
	}
	if len(out.Tracks) == 0 {
		return out, errors.New("no track could be ingested")
	}
	return out, nil
}

func (c *DRMTodayClient) ingestTrack(ctx context.Context, req Request, t TrackRequest) ([]keys.Pair, error) {
	count := 1
	var start int64
	if req.Rotation != nil && req.Rotation.Count > 0 {
		count = req.Rotation.Count
		start = req.Rotation.Start
	}

	pairs, stored, err := c.trackKeys(ctx, req.ContentID, t.ID, count)
	if err != nil {
		return nil, err
	}

	asset := cencAsset{
		Type:                  "CENC",
		AssetID:               req.ContentID,
		VariantID:             req.Variant,
		OverwriteExistingKeys: true,
	}
	for i, p := range pairs {
		iv, err := c.nonce(16)
		if err != nil {
			return nil, err
		}
		k := ingestKey{
			StreamType: string(t.Type),
			KeyID:      p.IDBase64(),
			Key:        p.KeyBase64(),
			Algorithm:  "AES",
			IV:         base64.StdEncoding.EncodeToString(iv),
		}
		if count > 1 {
			id := start + int64(i)
			k.KeyRotationID = &id
		}
		asset.IngestKeys = append(asset.IngestKeys, k)
	}

	path := drmTodayIngestPath + "/" + url.PathEscape(c.Merchant)
	if err := c.postJSON(ctx, path, cencKeysV2{Assets: []cencAsset{asset}}, nil); err != nil {
		return nil, err
	}
	slog.Info("ingested keys", slog.String("asset", req.ContentID), slog.Int("track", t.ID), slog.Int("keys", len(pairs)), slog.Bool("reused", stored))

	if c.Store != nil && !stored {
		if err := c.Store.SaveKeys(ctx, req.ContentID, t.ID, t.Type, pairs); err != nil {
			return nil, fmt.Errorf("save keys: %w", err)
		}
	}
	return pairs, nil
}

// trackKeys returns stored keys when the store holds exactly count of
// them, else fresh ones.
func (c *DRMTodayClient) trackKeys(ctx context.Context, asset string, trackID, count int) ([]keys.Pair, bool, error) {
	if c.Store != nil {
		pairs, err := c.Store.LoadKeys(ctx, asset, trackID)
		if err != nil {
			return nil, false, fmt.Errorf("load keys: %w", err)
		}
		if len(pairs) == count {
			return pairs, true, nil
		}
		if len(pairs) > 0 {
			slog.Warn("stored key count differs, generating new keys", slog.String("asset", asset), slog.Int("track", trackID), slog.Int("stored", len(pairs)), slog.Int("want", count))
		}
	}
	pairs := make([]keys.Pair, 0, count)
	for i := 0; i < count; i++ {
		p, err := keys.Generate(c.random())
		if err != nil {
			return nil, false, err
		}
		pairs = append(pairs, p)
	}
	return pairs, false, nil
}

func (c *DRMTodayClient) random() io.Reader {
	if c.Rand == nil {
		return crypto.Reader
	}
	return c.Rand
}

func (c *DRMTodayClient) nonce(n int) ([]byte, error) {
	if c.Rand == nil {
		return crypto.GenerateNonce(n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(c.Rand, b); err != nil {
		return nil, err
	}
	return b, nil
}
