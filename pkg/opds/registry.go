package opds

import (
	"encoding/json"
	"fmt"
)

// Registry is a library registry document: an OPDS 2 catalog whose
// entries each describe one library and link to its authentication
// document.
type Registry struct {
	Catalogs []Catalog `json:"catalogs"`
}

// Catalog is one library's listing within a registry.
type Catalog struct {
	Metadata CatalogMetadata `json:"metadata"`
	Links    []Link          `json:"links"`
}

// CatalogMetadata carries the registry-facing facts about a library.
// Title is the key patrons search by.
type CatalogMetadata struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ParseRegistry decodes a library registry document from JSON bytes.
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode library registry: %w", err)
	}
	return &reg, nil
}

// AuthDocumentLink returns the href of the catalog's first link whose
// type is the authentication-document media type, or "" when the
// library advertises none.
func (c *Catalog) AuthDocumentLink() string {
	for _, l := range c.Links {
		if l.Type == TypeAuthDocument {
			return l.Href
		}
	}
	return ""
}
