package opds

import (
	"encoding/json"
	"fmt"
)

// AuthDocument is an authentication document: the JSON description of
// how a client authenticates to an OPDS server and where the server's
// resources live. Servers conventionally serve it at
// /authentication_document and advertise it from the library registry
// with the TypeAuthDocument media type.
type AuthDocument struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Links are the document's outbound relations: the main catalog
	// (rel="start"), the patron's shelf, the profile document, and
	// whatever else the server offers.
	Links []Link `json:"links"`

	// Authentication lists the mechanisms a client may use, in the
	// server's order of preference.
	Authentication []Mechanism `json:"authentication"`
}

// Mechanism is one entry of an authentication document's
// "authentication" array. Its links are scoped to the mechanism, e.g.
// the rel="authenticate" endpoint of an OAuth flow.
type Mechanism struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Links       []Link `json:"links,omitempty"`
}

// ParseAuthDocument decodes an authentication document from JSON bytes.
func ParseAuthDocument(data []byte) (*AuthDocument, error) {
	var doc AuthDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode authentication document: %w", err)
	}
	return &doc, nil
}

// Mechanisms returns the document's authentication mechanisms whose
// type exactly equals typ, in document order. An empty typ returns
// every mechanism. Callers expecting a scheme-specific lookup to yield
// exactly one mechanism must check the length themselves.
func (d *AuthDocument) Mechanisms(typ string) []Mechanism {
	if typ == "" {
		return d.Authentication
	}
	var out []Mechanism
	for _, m := range d.Authentication {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}
