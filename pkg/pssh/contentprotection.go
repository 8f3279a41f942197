package pssh

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
)

// Descriptor is a DASH ContentProtection element.
type Descriptor struct {
	XMLName     xml.Name `xml:"ContentProtection"`
	SchemeIDURI string   `xml:"schemeIdUri,attr"`
	Value       string   `xml:"value,attr,omitempty"`
	PSSH        string   `xml:"cenc:pssh"`
	PRO         string   `xml:"mspr:pro,omitempty"`
}

// ContentProtection builds the descriptor for s. The pssh element holds the
// base64 pssh box; PlayReady also carries the bare PlayReady Object.
func ContentProtection(s System) (Descriptor, error) {
	c, err := Compose(s)
	if err != nil {
		return Descriptor{}, err
	}
	box, err := c.Box()
	if err != nil {
		return Descriptor{}, err
	}
	raw, err := box.Bytes()
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		SchemeIDURI: "urn:uuid:" + s.SystemID().String(),
		PSSH:        base64.StdEncoding.EncodeToString(raw),
	}
	switch s.(type) {
	case ClearKey:
		d.Value = "ClearKey1.0"
	case Widevine:
		d.Value = "Widevine"
	case PlayReady:
		d.Value = "MSPR 2.0"
		pro, err := c.Payload()
		if err != nil {
			return Descriptor{}, err
		}
		d.PRO = base64.StdEncoding.EncodeToString(pro)
	case Marlin:
		d.Value = "Marlin"
	default:
		return Descriptor{}, fmt.Errorf("%w: %T", ErrUnsupportedSystem, s)
	}
	return d, nil
}

// Marshal renders the descriptor as indented XML.
func (d Descriptor) Marshal() ([]byte, error) {
	return xml.MarshalIndent(d, "", "  ")
}
