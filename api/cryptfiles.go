package api

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dashcrypt/cryptgen/pkg/bitstream"
	"github.com/dashcrypt/cryptgen/pkg/cryptfile"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/dashcrypt/cryptgen/pkg/pssh"
	"github.com/dashcrypt/cryptgen/pkg/track"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const maxBody = 1 << 20

type KeyRequest struct {
	KID string `json:"kid"`
	Key string `json:"key"`
}

type TrackRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type,omitempty"`
	// IVSize defaults to 8.
	IVSize   int          `json:"ivSize,omitempty"`
	FirstIV  string       `json:"firstIV,omitempty"`
	Rotation int          `json:"rotation,omitempty"`
	Keys     []KeyRequest `json:"keys,omitempty"`
	// Generate is the number of random keys to create when Keys is empty.
	Generate int `json:"generate,omitempty"`
}

type SystemRequest struct {
	System string `json:"system"`
	// Widevine
	Provider  string `json:"provider,omitempty"`
	ContentID string `json:"contentId,omitempty"`
	Policy    string `json:"policy,omitempty"`
	// PlayReady
	LicenseURL string `json:"licenseUrl,omitempty"`
	// Payload is a base64 Widevine or PlayReady payload used as is.
	Payload string `json:"payload,omitempty"`
}

type CryptfileRequest struct {
	Scheme  string          `json:"scheme,omitempty"`
	Tracks  []TrackRequest  `json:"tracks"`
	Systems []SystemRequest `json:"systems"`
}

type cryptfileHandler struct {
	rand io.Reader
}

func LoadCryptfileRoutes(rand io.Reader) chi.Router {
	h := cryptfileHandler{rand: rand}
	r := chi.NewRouter()
	r.Post("/", h.createCryptfile)
	r.Post("/inspect", h.inspectCryptfile)
	return r
}

func (h cryptfileHandler) createCryptfile(w http.ResponseWriter, r *http.Request) {
	var req CryptfileRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Error("could not decode cryptfile request", "error", err)
		http.Error(w, "could not decode cryptfile request", http.StatusBadRequest)
		return
	}
	doc, err := req.build(h.rand)
	if err != nil {
		slog.Error("could not build cryptfile", "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := doc.WriteTo(w); err != nil {
		slog.Error("could not write cryptfile", "error", err)
	}
}

type inspectedSystem struct {
	DRMInfo int `json:"drmInfo"`
	*pssh.Report
}

func (h cryptfileHandler) inspectCryptfile(w http.ResponseWriter, r *http.Request) {
	doc, err := cryptfile.Read(io.LimitReader(r.Body, maxBody))
	if err != nil {
		slog.Error("could not read cryptfile", "error", err)
		http.Error(w, "could not read cryptfile", http.StatusBadRequest)
		return
	}
	var out []inspectedSystem
	for i, info := range doc.DRMInfos() {
		// file references would be resolved on this host
		for _, f := range info.Fields {
			if _, _, _, ok := f.File(); ok {
				http.Error(w, fmt.Sprintf("DRMInfo %d: dataFile fields are not accepted", i), http.StatusUnprocessableEntity)
				return
			}
		}
		box, err := info.Box()
		if err != nil {
			http.Error(w, fmt.Sprintf("DRMInfo %d: %v", i, err), http.StatusUnprocessableEntity)
			return
		}
		raw, err := box.Bytes()
		if err != nil {
			http.Error(w, fmt.Sprintf("DRMInfo %d: %v", i, err), http.StatusUnprocessableEntity)
			return
		}
		report, err := pssh.Inspect(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("DRMInfo %d: %v", i, err), http.StatusUnprocessableEntity)
			return
		}
		out = append(out, inspectedSystem{DRMInfo: i, Report: report})
	}
	writeJSON(w, http.StatusOK, out)
}

func (req CryptfileRequest) build(rand io.Reader) (*cryptfile.Document, error) {
	scheme, err := cryptfile.ParseScheme(req.Scheme)
	if err != nil {
		return nil, err
	}
	tracks, err := req.tracks(rand)
	if err != nil {
		return nil, err
	}
	systems, err := req.systems(scheme, tracks)
	if err != nil {
		return nil, err
	}
	return cryptfile.Build(scheme, tracks, systems)
}

func (req CryptfileRequest) tracks(rand io.Reader) ([]track.Track, error) {
	if len(req.Tracks) == 0 {
		return nil, fmt.Errorf("%w: no tracks", track.ErrInvalidTrack)
	}
	tracks := make([]track.Track, 0, len(req.Tracks))
	for _, tr := range req.Tracks {
		t, err := tr.build(rand)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (tr TrackRequest) build(rand io.Reader) (track.Track, error) {
	var pairs []keys.Pair
	for _, k := range tr.Keys {
		p, err := keys.Parse(k.KID, k.Key)
		if err != nil {
			return track.Track{}, err
		}
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		if tr.Generate > 64 {
			return track.Track{}, fmt.Errorf("%w: track %d: at most 64 generated keys, got %d", track.ErrInvalidTrack, tr.ID, tr.Generate)
		}
		for i := 0; i < tr.Generate; i++ {
			p, err := keys.Generate(rand)
			if err != nil {
				return track.Track{}, err
			}
			pairs = append(pairs, p)
		}
	}

	ivSize := tr.IVSize
	if ivSize == 0 {
		ivSize = 8
	}
	ops := []track.Option{track.WithRotation(tr.Rotation)}
	if tr.Type != "" {
		typ, err := track.ParseType(tr.Type)
		if err != nil {
			return track.Track{}, fmt.Errorf("%w: %v", track.ErrInvalidTrack, err)
		}
		ops = append(ops, track.WithType(typ))
	}
	if tr.FirstIV != "" {
		iv, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(tr.FirstIV, "0x"), "0X"))
		if err != nil {
			return track.Track{}, fmt.Errorf("%w: track %d: first IV: %v", track.ErrInvalidTrack, tr.ID, err)
		}
		ops = append(ops, track.WithFirstIV(iv))
	}
	return track.New(tr.ID, ivSize, pairs, ops...)
}

// systems defaults every system to the key IDs of all tracks.
func (req CryptfileRequest) systems(scheme cryptfile.Scheme, tracks []track.Track) ([]pssh.System, error) {
	var all []keys.Pair
	for _, t := range tracks {
		all = append(all, t.Keys()...)
	}
	systems := make([]pssh.System, 0, len(req.Systems))
	for _, s := range req.Systems {
		sys, err := s.build(scheme, all)
		if err != nil {
			return nil, err
		}
		systems = append(systems, sys)
	}
	return systems, nil
}

func (s SystemRequest) build(scheme cryptfile.Scheme, pairs []keys.Pair) (pssh.System, error) {
	var payload []byte
	if s.Payload != "" {
		b, err := base64.StdEncoding.DecodeString(s.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", pssh.ErrMalformedPayload, s.System, err)
		}
		payload = b
	}
	kids := pssh.KeyIDs(pairs)

	switch strings.ToLower(s.System) {
	case "clearkey":
		return pssh.NewClearKey(kids...)
	case "widevine":
		if payload != nil {
			return pssh.WidevineFromPayload(payload)
		}
		return pssh.NewWidevine(pssh.WidevineHeader{
			Algorithm: pssh.WidevineAESCTR,
			KeyIDs:    kids,
			Provider:  s.Provider,
			ContentID: []byte(s.ContentID),
			Policy:    s.Policy,
		})
	case "playready":
		if payload != nil {
			return pssh.PlayReadyFromPayload(payload)
		}
		h := pssh.PlayReadyHeader{Keys: pairs, Checksum: true, LicenseURL: s.LicenseURL}
		if scheme == cryptfile.AESCBC {
			h.Algorithm = pssh.PlayReadyAESCBC
		}
		return pssh.NewPlayReady(h)
	case "marlin":
		return pssh.NewMarlin(kids...)
	}
	return nil, fmt.Errorf("%w: %q", pssh.ErrUnsupportedSystem, s.System)
}

type systemInfo struct {
	Name     string    `json:"name"`
	SystemID uuid.UUID `json:"systemId"`
	Version  uint8     `json:"psshVersion"`
}

// probeSystems builds one header per system around a placeholder key so the
// box version each system uses can be reported.
func probeSystems() ([]pssh.System, error) {
	kid := uuid.UUID{0x01}
	pair, err := keys.New(kid[:], make([]byte, keys.Size))
	if err != nil {
		return nil, err
	}
	ck, err := pssh.NewClearKey(kid)
	if err != nil {
		return nil, err
	}
	wv, err := pssh.NewWidevine(pssh.WidevineHeader{Algorithm: pssh.WidevineAESCTR, KeyIDs: []uuid.UUID{kid}})
	if err != nil {
		return nil, err
	}
	pr, err := pssh.NewPlayReady(pssh.PlayReadyHeader{Keys: []keys.Pair{pair}})
	if err != nil {
		return nil, err
	}
	ml, err := pssh.NewMarlin(kid)
	if err != nil {
		return nil, err
	}
	return []pssh.System{ck, wv, pr, ml}, nil
}

func getSystems(w http.ResponseWriter, r *http.Request) {
	probe, err := probeSystems()
	if err != nil {
		slog.Error("could not describe systems", "error", err)
		http.Error(w, "could not describe systems", http.StatusInternalServerError)
		return
	}
	out := make([]systemInfo, 0, len(probe))
	for _, s := range probe {
		c, err := pssh.Compose(s)
		if err != nil {
			slog.Error("could not describe systems", "system", s.Name(), "error", err)
			http.Error(w, "could not describe systems", http.StatusInternalServerError)
			return
		}
		out = append(out, systemInfo{Name: s.Name(), SystemID: s.SystemID(), Version: c.Version})
	}
	writeJSON(w, http.StatusOK, out)
}

type descriptor struct {
	System  string `json:"system"`
	Element string `json:"element"`
}

func createContentProtection(w http.ResponseWriter, r *http.Request) {
	var req CryptfileRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Error("could not decode content protection request", "error", err)
		http.Error(w, "could not decode content protection request", http.StatusBadRequest)
		return
	}
	scheme, err := cryptfile.ParseScheme(req.Scheme)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// generated keys would be lost, so every key must be given
	tracks, err := req.tracks(errReader{})
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	systems, err := req.systems(scheme, tracks)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	out := make([]descriptor, 0, len(systems))
	for _, s := range systems {
		d, err := pssh.ContentProtection(s)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		b, err := d.Marshal()
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		out = append(out, descriptor{System: s.Name(), Element: string(b)})
	}
	writeJSON(w, http.StatusOK, out)
}

var errNoRandom = errors.New("keys must be given explicitly")

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errNoRandom }

func statusFor(err error) int {
	var (
		kerr *keys.Error
		berr *bitstream.Error
	)
	switch {
	case errors.Is(err, track.ErrTypeConflict), errors.Is(err, cryptfile.ErrDuplicateTrack):
		return http.StatusConflict
	case errors.As(err, &kerr), errors.As(err, &berr),
		errors.Is(err, track.ErrInvalidTrack),
		errors.Is(err, cryptfile.ErrUnknownScheme),
		errors.Is(err, pssh.ErrNoKeys),
		errors.Is(err, pssh.ErrMalformedPayload),
		errors.Is(err, pssh.ErrUnsupportedSystem),
		errors.Is(err, errNoRandom):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("could not encode response", "error", err)
	}
}
