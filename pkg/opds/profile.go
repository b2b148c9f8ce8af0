package opds

import (
	"encoding/json"
	"fmt"
)

// Profile is a patron profile document. The client only inspects the
// drm array; everything else the server includes is ignored.
type Profile struct {
	AuthorizationIdentifier string      `json:"simplified:authorization_identifier,omitempty"`
	DRM                     []DRMStatus `json:"drm,omitempty"`
}

// DRMStatus is one entry of a profile's drm array. A usable Adobe
// credential has Scheme equal to DRMSchemeACS and both Vendor and
// ClientToken non-empty.
type DRMStatus struct {
	Vendor      string `json:"drm:vendor"`
	Scheme      string `json:"drm:scheme"`
	ClientToken string `json:"drm:clientToken"`
}

// ParseProfile decodes a patron profile document from JSON bytes.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode patron profile document: %w", err)
	}
	return &p, nil
}
