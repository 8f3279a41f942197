package pssh

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"github.com/dashcrypt/cryptgen/internal/crypto"
	"github.com/dashcrypt/cryptgen/pkg/bitstream"
	"github.com/dashcrypt/cryptgen/pkg/keys"
	"github.com/google/uuid"
	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
	"golang.org/x/text/encoding/unicode"
)

const PlayReadyNamespace = "http://schemas.microsoft.com/DRM/2007/03/PlayReadyHeader"

// PlayReady Object record types.
const (
	RecordRightsManagementHeader uint16 = 1
	RecordLicenseStore           uint16 = 3
)

type PlayReadyAlgorithm string

const (
	PlayReadyAESCTR PlayReadyAlgorithm = "AESCTR"
	PlayReadyAESCBC PlayReadyAlgorithm = "AESCBC"
)

// PlayReadyHeader describes a WRMHEADER.
//
// One AESCTR key yields version 4.0.0.0, several yield 4.2.0.0 and AESCBC
// needs 4.3.0.0. Checksums are only defined for AESCTR and are skipped
// otherwise.
type PlayReadyHeader struct {
	Keys             []keys.Pair
	Algorithm        PlayReadyAlgorithm
	Checksum         bool
	LicenseURL       string
	LicenseUIURL     string
	DomainServiceID  string
	CustomAttributes string
}

func (h PlayReadyHeader) clone() PlayReadyHeader {
	c := h
	c.Keys = append([]keys.Pair(nil), h.Keys...)
	return c
}

func (h PlayReadyHeader) algorithm() PlayReadyAlgorithm {
	if h.Algorithm == "" {
		return PlayReadyAESCTR
	}
	return h.Algorithm
}

// Version is the WRMHEADER version the header renders as.
func (h PlayReadyHeader) Version() string {
	switch {
	case h.algorithm() == PlayReadyAESCBC:
		return "4.3.0.0"
	case len(h.Keys) > 1:
		return "4.2.0.0"
	}
	return "4.0.0.0"
}

type wrmHeader struct {
	XMLName xml.Name `xml:"WRMHEADER"`
	Xmlns   string   `xml:"xmlns,attr"`
	Version string   `xml:"version,attr"`
	Data    wrmData  `xml:"DATA"`
}

type wrmData struct {
	ProtectInfo      wrmProtectInfo `xml:"PROTECTINFO"`
	KID              string         `xml:"KID,omitempty"`
	Checksum         string         `xml:"CHECKSUM,omitempty"`
	LicenseURL       string         `xml:"LA_URL,omitempty"`
	LicenseUIURL     string         `xml:"LUI_URL,omitempty"`
	DomainServiceID  string         `xml:"DS_ID,omitempty"`
	CustomAttributes *wrmInner      `xml:"CUSTOMATTRIBUTES"`
}

type wrmProtectInfo struct {
	KeyLen string   `xml:"KEYLEN,omitempty"`
	AlgID  string   `xml:"ALGID,omitempty"`
	KID    *wrmKID  `xml:"KID"`
	KIDs   *wrmKIDs `xml:"KIDS"`
}

type wrmKIDs struct {
	KID []wrmKID `xml:"KID"`
}

type wrmKID struct {
	AlgID    string `xml:"ALGID,attr,omitempty"`
	Value    string `xml:"VALUE,attr"`
	Checksum string `xml:"CHECKSUM,attr,omitempty"`
}

type wrmInner struct {
	XML string `xml:",innerxml"`
}

// WRMHeader renders the header XML.
func (h PlayReadyHeader) WRMHeader() (string, error) {
	if len(h.Keys) == 0 {
		return "", ErrNoKeys
	}
	alg := h.algorithm()
	if alg != PlayReadyAESCTR && alg != PlayReadyAESCBC {
		return "", fmt.Errorf("pssh: unknown playready algorithm %q", alg)
	}
	doc := wrmHeader{
		Xmlns:   PlayReadyNamespace,
		Version: h.Version(),
		Data: wrmData{
			LicenseURL:      h.LicenseURL,
			LicenseUIURL:    h.LicenseUIURL,
			DomainServiceID: h.DomainServiceID,
		},
	}
	if h.CustomAttributes != "" {
		doc.Data.CustomAttributes = &wrmInner{XML: h.CustomAttributes}
	}

	kids := make([]wrmKID, 0, len(h.Keys))
	for _, k := range h.Keys {
		kid := wrmKID{AlgID: string(alg), Value: base64.StdEncoding.EncodeToString(guidLE(k.UUID()))}
		if h.Checksum && alg == PlayReadyAESCTR {
			sum, err := crypto.KeyChecksum(guidLE(k.UUID()), k.Key())
			if err != nil {
				return "", fmt.Errorf("pssh: playready checksum: %w", err)
			}
			kid.Checksum = base64.StdEncoding.EncodeToString(sum)
		}
		kids = append(kids, kid)
	}
	if doc.Version == "4.0.0.0" {
		doc.Data.ProtectInfo = wrmProtectInfo{KeyLen: "16", AlgID: string(alg)}
		doc.Data.KID = kids[0].Value
		doc.Data.Checksum = kids[0].Checksum
	} else {
		doc.Data.ProtectInfo.KIDs = &wrmKIDs{KID: kids}
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("pssh: playready header: %w", err)
	}
	return string(out), nil
}

// Fields lays out a PlayReady Object holding a single WRMHEADER record.
func (h PlayReadyHeader) Fields() ([]bitstream.Field, error) {
	wrm, err := h.WRMHeader()
	if err != nil {
		return nil, err
	}
	record, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(wrm))
	if err != nil {
		return nil, fmt.Errorf("pssh: playready header: %w", err)
	}
	var seq bitstream.Sequence
	return seq.
		IntegerLE(uint64(4+2+2+2+len(record)), 32).
		IntegerLE(1, 16).
		IntegerLE(uint64(RecordRightsManagementHeader), 16).
		IntegerLE(uint64(len(record)), 16).
		Data(record).
		Fields()
}

// Object encodes the PlayReady Object.
func (h PlayReadyHeader) Object() ([]byte, error) {
	fields, err := h.Fields()
	if err != nil {
		return nil, err
	}
	return bitstream.Encode(fields...)
}

// PlayReadyRecord is one record of a PlayReady Object.
type PlayReadyRecord struct {
	Type uint16
	Data []byte
}

// PlayReadyObject is a decoded PlayReady Object. Header is set when the
// object carries a rights management header.
type PlayReadyObject struct {
	Records []PlayReadyRecord
	Header  *PlayReadyInfo
}

// PlayReadyInfo is what can be read back from a WRMHEADER.
type PlayReadyInfo struct {
	Version          string
	Algorithm        PlayReadyAlgorithm
	KeyIDs           []uuid.UUID
	LicenseURL       string
	LicenseUIURL     string
	DomainServiceID  string
	CustomAttributes string
}

// ParsePlayReadyObject decodes a PlayReady Object and its WRMHEADER.
func ParsePlayReadyObject(b []byte) (PlayReadyObject, error) {
	s := kaitai.NewStream(bytes.NewReader(b))
	length, err := s.ReadU4le()
	if err != nil {
		return PlayReadyObject{}, malformed("playready object", err)
	}
	if int(length) != len(b) {
		return PlayReadyObject{}, malformed("playready object", fmt.Errorf("length field %d, have %d bytes", length, len(b)))
	}
	count, err := s.ReadU2le()
	if err != nil {
		return PlayReadyObject{}, malformed("playready object", err)
	}
	var obj PlayReadyObject
	for i := 0; i < int(count); i++ {
		typ, err := s.ReadU2le()
		if err != nil {
			return PlayReadyObject{}, malformed("playready record", err)
		}
		n, err := s.ReadU2le()
		if err != nil {
			return PlayReadyObject{}, malformed("playready record", err)
		}
		data, err := s.ReadBytes(int(n))
		if err != nil {
			return PlayReadyObject{}, malformed("playready record", err)
		}
		obj.Records = append(obj.Records, PlayReadyRecord{Type: typ, Data: data})
		if typ == RecordRightsManagementHeader && obj.Header == nil {
			info, err := parseWRMHeader(data)
			if err != nil {
				return PlayReadyObject{}, err
			}
			obj.Header = &info
		}
	}
	if eof, err := s.EOF(); err != nil || !eof {
		return PlayReadyObject{}, malformed("playready object", fmt.Errorf("trailing bytes after %d records", count))
	}
	return obj, nil
}

func parseWRMHeader(record []byte) (PlayReadyInfo, error) {
	text, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(record)
	if err != nil {
		return PlayReadyInfo{}, malformed("playready header", err)
	}
	var doc wrmHeader
	if err := xml.Unmarshal(text, &doc); err != nil {
		return PlayReadyInfo{}, malformed("playready header", err)
	}
	info := PlayReadyInfo{
		Version:         doc.Version,
		Algorithm:       PlayReadyAlgorithm(doc.Data.ProtectInfo.AlgID),
		LicenseURL:      doc.Data.LicenseURL,
		LicenseUIURL:    doc.Data.LicenseUIURL,
		DomainServiceID: doc.Data.DomainServiceID,
	}
	if doc.Data.CustomAttributes != nil {
		info.CustomAttributes = doc.Data.CustomAttributes.XML
	}

	var values []wrmKID
	switch {
	case doc.Data.KID != "":
		values = append(values, wrmKID{Value: doc.Data.KID})
	case doc.Data.ProtectInfo.KID != nil:
		values = append(values, *doc.Data.ProtectInfo.KID)
	case doc.Data.ProtectInfo.KIDs != nil:
		values = doc.Data.ProtectInfo.KIDs.KID
	}
	for _, v := range values {
		raw, err := base64.StdEncoding.DecodeString(v.Value)
		if err != nil || len(raw) != 16 {
			return PlayReadyInfo{}, malformed("playready KID", fmt.Errorf("invalid value %q", v.Value))
		}
		id, _ := uuid.FromBytes(guidLE(uuid.UUID(raw)))
		info.KeyIDs = append(info.KeyIDs, id)
		if info.Algorithm == "" {
			info.Algorithm = PlayReadyAlgorithm(v.AlgID)
		}
	}
	return info, nil
}

// guidLE swaps a GUID between big-endian and the little-endian layout
// PlayReady uses for its first three groups.
func guidLE(id uuid.UUID) []byte {
	b := id
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
	return b[:]
}
