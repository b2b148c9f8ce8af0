// Package opds defines the wire vocabulary of the Library Simplified
// OPDS ecosystem: the media-type and relation constants servers are
// expected to use, the link shape shared by Atom feeds and the JSON
// documents (OPDS 2 registry, authentication document, patron profile),
// and parsers for each document kind.
//
// The package is deliberately read-side only. It models the subset of
// the formats a conformance client inspects, not everything a server
// may emit.
package opds

// Media types exchanged within the ecosystem.
const (
	// TypeOPDS1Acquisition is the media type of an OPDS 1 acquisition feed.
	TypeOPDS1Acquisition = "application/atom+xml;profile=opds-catalog;kind=acquisition"

	// TypeOPDS2 is the media type of an OPDS 2 catalog, served by
	// library registries.
	TypeOPDS2 = "application/opds+json"

	// TypeAuthDocument is the media type of an authentication document.
	TypeAuthDocument = "application/vnd.opds.authentication.v1.0+json"

	// TypePatronProfile is the media type of a patron profile document.
	TypePatronProfile = "vnd.librarysimplified/user-profile+json"

	// TypeACSM is the media type of an Adobe Content Server message,
	// the voucher handed out when fulfilling an ACS-protected loan.
	TypeACSM = "application/vnd.adobe.adept+xml"

	// TypeOPDSEntry is the media type of a standalone OPDS entry.
	TypeOPDSEntry = "application/atom+xml;type=entry;profile=opds-catalog"

	// TypeAudiobookManifest is the media type of an audiobook manifest.
	TypeAudiobookManifest = "application/audiobook+json"

	// TypeProblemDetail is the media type servers use for machine-readable
	// error documents.
	TypeProblemDetail = "application/api-problem+json"
)

// Authentication mechanism types listed in authentication documents.
const (
	AuthTypeBasic             = "http://opds-spec.org/auth/basic"
	AuthTypeOAuthIntermediary = "http://librarysimplified.org/authtype/OAuth-with-intermediary"
)

// Link relations.
const (
	// RelStart points at the main catalog of an OPDS server.
	RelStart = "start"

	// RelCollection groups a feed entry under a named lane.
	RelCollection = "collection"

	// RelAuthenticate points at the endpoint that begins an OAuth flow.
	RelAuthenticate = "authenticate"

	// RelAcquisition marks a fulfillment link on a loaned entry.
	RelAcquisition = "http://opds-spec.org/acquisition"

	// RelShelf points at the patron's bookshelf feed.
	RelShelf = "http://opds-spec.org/shelf"

	// RelUserProfile points at the patron profile document.
	RelUserProfile = "http://librarysimplified.org/terms/rel/user-profile"
)

// DRMSchemeACS identifies Adobe Content Server DRM in a patron
// profile's drm array. Entries carrying any other scheme are not
// usable by this client.
const DRMSchemeACS = "http://librarysimplified.org/terms/drm/scheme/ACS"

// Link is a relation-typed pointer to another resource. The same shape
// appears as an Atom <link> element and as an entry of the "links"
// array in the JSON documents.
type Link struct {
	Href string `json:"href" xml:"href,attr"`
	Rel  string `json:"rel,omitempty" xml:"rel,attr,omitempty"`
	Type string `json:"type,omitempty" xml:"type,attr,omitempty"`

	// Title is only meaningful on rel="collection" links, where it
	// names the group the entry belongs to.
	Title string `json:"title,omitempty" xml:"title,attr,omitempty"`
}

// LinkWithRel returns the first link whose rel equals rel, preserving
// document order; later links with the same rel are never consulted.
// It returns nil when nothing matches. Absence is not an error at this
// level; callers decide what a missing relation means.
func LinkWithRel(links []Link, rel string) *Link {
	for i := range links {
		if links[i].Rel == rel {
			return &links[i]
		}
	}
	return nil
}

// LinksWithRel returns every link whose rel equals rel, in document
// order. The result is nil when nothing matches.
func LinksWithRel(links []Link, rel string) []Link {
	var out []Link
	for _, l := range links {
		if l.Rel == rel {
			out = append(out, l)
		}
	}
	return out
}
