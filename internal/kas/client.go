// Package kas talks to key issuance services. Every call completes before
// any track or pssh is built; the results are plain keys and payload bytes.
package kas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var ErrMalformedResponse = errors.New("malformed key server response")

// StatusError is a key server reply that was not a success. Status is the
// HTTP status line or the server's own status code.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("key server returned %s", e.Status)
	}
	return fmt.Sprintf("key server returned %s body: %s", e.Status, e.Body)
}

// Issuer resolves keys, and optionally pssh payloads, for a set of tracks.
type Issuer interface {
	IssueKeys(ctx context.Context, req Request) (*Issuance, error)
}

type TrackRequest struct {
	ID   int
	Type track.Type
}

// Rotation asks for Count keys per track starting at crypto period Start.
type Rotation struct {
	Start int64
	Count int
}

type Request struct {
	ContentID string
	Variant   string
	Tracks    []TrackRequest
	Rotation  *Rotation
}

// Payload is a ready made pssh payload for one system.
type Payload struct {
	SystemID uuid.UUID
	Data     []byte
}

type IssuedTrack struct {
	ID       int
	Type     track.Type
	Keys     []keys.Pair
	Payloads []Payload
}

// SkippedTrack records a track left out under SkipFailedTracks.
type SkippedTrack struct {
	ID   int
	Type track.Type
	Err  error
}

type Issuance struct {
	Tracks  []IssuedTrack
	Skipped []SkippedTrack
}

// AllKeys returns the keys of every issued track in order.
func (i *Issuance) AllKeys() []keys.Pair {
	var out []keys.Pair
	for _, t := range i.Tracks {
		out = append(out, t.Keys...)
	}
	return out
}

// IngestPolicy decides what a per-track failure does to the whole request.
type IngestPolicy int

const (
	// AbortOnError returns the first per-track failure.
	AbortOnError IngestPolicy = iota
	// SkipFailedTracks leaves failed tracks out of the issuance and lists
	// them in Issuance.Skipped.
	SkipFailedTracks
)

func (p IngestPolicy) String() string {
	if p == SkipFailedTracks {
		return "skip"
	}
	return "abort"
}

func ParseIngestPolicy(s string) (IngestPolicy, error) {
	switch strings.ToLower(s) {
	case "", "abort":
		return AbortOnError, nil
	case "skip":
		return SkipFailedTracks, nil
	}
	return AbortOnError, fmt.Errorf("unknown ingest policy %q, want abort or skip", s)
}

type Client struct {
	*http.Client
	Endpoint *url.URL
}

type ClientOptions struct {
	HttpClient *http.Client
	Endpoint   *url.URL
}

func NewClient(ops ...ClientOptions) (*Client, error) {
	client := &Client{}
	if len(ops) > 0 {
		if ops[0].HttpClient == nil {
			return nil, errors.New("http client cannot be nil. use the auth package to create an http client")
		}
		client.Client = ops[0].HttpClient
		if ops[0].Endpoint != nil && ops[0].Endpoint.String() != "" {
			client.Endpoint = ops[0].Endpoint
		}
	}
	clientDefaults(client)
	if client.Endpoint == nil {
		return nil, errors.New("key server endpoint is required")
	}
	return client, nil
}

func clientDefaults(client *Client) {
	if client.Client == nil {
		client.Client = defaultHTTPClient()
	}
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// postJSON sends body as JSON to path under the endpoint and decodes a 2xx
// reply into out, if out is not nil.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := c.Endpoint.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return err
		}
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(errBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(ErrMalformedResponse, err)
	}
	return nil
}
