package selftest

import (
	"context"
	"strings"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

// AuthenticationDocument is a fetched authentication document. It is
// the hub of a run: the patron profile, the bookshelf and the main
// catalog all hang off its links, and the credentials set here flow
// into every child document.
type AuthenticationDocument struct {
	client *fetch.Client
	doc    *fetch.Document
	data   *opds.AuthDocument
	creds  *fetch.Credentials
}

// NewAuthenticationDocument fetches and parses the authentication
// document at authURL. Transport failures are fatal; a body that is
// not JSON is reported and treated as a document with no links, which
// the link lookups then complain about one by one.
func NewAuthenticationDocument(ctx context.Context, client *fetch.Client, authURL string) (*AuthenticationDocument, error) {
	doc := client.Document(authURL, "authentication document", nil, "")
	body, err := doc.Body(ctx)
	if err != nil {
		return nil, err
	}
	data, err := opds.ParseAuthDocument(body)
	if err != nil {
		client.Reporter().Errorf("Authentication document is not parseable as JSON.")
		data = &opds.AuthDocument{}
	}
	return &AuthenticationDocument{client: client, doc: doc, data: data}, nil
}

// Title returns the library's display title from the document.
func (a *AuthenticationDocument) Title() string { return a.data.Title }

// SetCredentials attaches patron credentials. Documents constructed
// after this call present them as HTTP basic auth; the authentication
// document itself is always fetched anonymously.
func (a *AuthenticationDocument) SetCredentials(username, password string) {
	a.creds = &fetch.Credentials{Username: username, Password: password}
}

// linkWithRel resolves rel against the document's links, reporting an
// error when the relation is absent. The empty href it returns in that
// case is the caller's signal to skip the document behind the link.
func (a *AuthenticationDocument) linkWithRel(rel string) string {
	if l := opds.LinkWithRel(a.data.Links, rel); l != nil {
		return l.Href
	}
	a.client.Reporter().Errorf("No link found with rel=%q!", rel)
	return ""
}

// MainCatalog selects the start link that advertises an OPDS 1
// acquisition feed and wraps it as a feed document. When no link
// qualifies the error is reported and the returned document has an
// empty URL; constructing it never fails, but fetching it will.
func (a *AuthenticationDocument) MainCatalog() *FeedDocument {
	var href string
	for _, l := range a.data.Links {
		if l.Rel == opds.RelStart && strings.HasPrefix(l.Type, opds.TypeOPDS1Acquisition) {
			href = l.Href
			break
		}
	}
	if href == "" {
		a.client.Reporter().Errorf("Authentication document does not contain a usable 'start' link!")
	}
	return &FeedDocument{
		client: a.client,
		doc:    a.client.Document(href, "main catalog", a.creds, ""),
	}
}

// ProfileDocument wraps the patron profile link, or returns nil after
// reporting when the document has none.
func (a *AuthenticationDocument) ProfileDocument() *ProfileDocument {
	href := a.linkWithRel(opds.RelUserProfile)
	if href == "" {
		return nil
	}
	return &ProfileDocument{
		client: a.client,
		doc:    a.client.Document(href, "patron profile document", a.creds, ""),
	}
}

// Bookshelf wraps the patron shelf link, or returns nil after
// reporting when the document has none.
func (a *AuthenticationDocument) Bookshelf() *BookshelfDocument {
	href := a.linkWithRel(opds.RelShelf)
	if href == "" {
		return nil
	}
	return &BookshelfDocument{
		client: a.client,
		doc:    a.client.Document(href, "bookshelf", a.creds, ""),
	}
}

// Mechanisms returns the document's authentication mechanisms of the
// given type, wrapped so their links can be resolved with the usual
// diagnostics. An empty typ returns every mechanism.
func (a *AuthenticationDocument) Mechanisms(typ string) []Mechanism {
	raw := a.data.Mechanisms(typ)
	out := make([]Mechanism, 0, len(raw))
	for _, m := range raw {
		out = append(out, Mechanism{client: a.client, data: m})
	}
	return out
}

// Mechanism is one authentication mechanism of an authentication
// document, bound to the client so link lookups can report.
type Mechanism struct {
	client *fetch.Client
	data   opds.Mechanism
}

// Type returns the mechanism's type URI.
func (m Mechanism) Type() string { return m.data.Type }

// LinkWithRel resolves rel against the mechanism's links, reporting an
// error and returning "" when the relation is absent.
func (m Mechanism) LinkWithRel(rel string) string {
	if l := opds.LinkWithRel(m.data.Links, rel); l != nil {
		return l.Href
	}
	m.client.Reporter().Errorf("No link found with rel=%q!", rel)
	return ""
}
