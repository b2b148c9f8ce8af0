package selftest

import (
	"context"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

// ProfileDocument is the patron profile document, fetched with the
// patron's credentials. Its drm array is where the Adobe short client
// token lives.
type ProfileDocument struct {
	client *fetch.Client
	doc    *fetch.Document
}

// Validate fetches the profile and scans its drm array for a usable
// Adobe credential: the first ACS entry carrying both a vendor and a
// client token. Entries under any other scheme are warned about and
// skipped. When a token is found and a registry is available, the
// token is verified against the registry's sign-in endpoint; a token
// that does not even have the right shape fails the run.
func (p *ProfileDocument) Validate(ctx context.Context, registry *RegistryDocument) error {
	body, err := p.doc.Body(ctx)
	if err != nil {
		return err
	}
	rep := p.client.Reporter()
	profile, err := opds.ParseProfile(body)
	if err != nil {
		rep.Errorf("Patron profile document is not parseable as JSON.")
		return nil
	}

	var adobe *opds.DRMStatus
	for i := range profile.DRM {
		drm := &profile.DRM[i]
		if drm.Scheme != opds.DRMSchemeACS {
			rep.Warnf("Unknown DRM scheme seen: %s", drm.Scheme)
			continue
		}
		if drm.Vendor != "" && drm.ClientToken != "" {
			adobe = drm
			break
		}
	}
	if adobe == nil {
		rep.Warnf("No Adobe token found.")
		return nil
	}
	rep.Printf("Adobe token found: %s, %s", adobe.Vendor, adobe.ClientToken)

	if registry == nil {
		rep.Printf("No registry in this run; not verifying the token.")
		return nil
	}
	return registry.ValidateShortToken(ctx, adobe.ClientToken)
}
