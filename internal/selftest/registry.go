package selftest

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
	"github.com/NYPL-Simplified/self-test-client/pkg/shorttoken"
)

// RegistryDocument is a fetched library registry feed with its
// catalogs indexed by library title. It also owns the vendor-id
// sign-in round trip, because the sign-in endpoint lives on the
// registry host.
type RegistryDocument struct {
	client    *fetch.Client
	doc       *fetch.Document
	libraries map[string]*opds.Catalog
}

// NewRegistry fetches the registry feed at registryURL and indexes it.
// Failing to reach the registry at all is fatal; a body that is not
// parseable is reported and leaves the index empty, so every library
// lookup afterwards misses.
func NewRegistry(ctx context.Context, client *fetch.Client, registryURL string) (*RegistryDocument, error) {
	doc := client.Document(registryURL, "library registry", nil, "")
	body, err := doc.Body(ctx)
	if err != nil {
		return nil, err
	}
	libraries := make(map[string]*opds.Catalog)
	reg, err := opds.ParseRegistry(body)
	if err != nil {
		client.Reporter().Errorf("Library registry is not parseable as JSON.")
	} else {
		for i := range reg.Catalogs {
			c := &reg.Catalogs[i]
			libraries[c.Metadata.Title] = c
		}
	}
	return &RegistryDocument{client: client, doc: doc, libraries: libraries}, nil
}

// Titles returns the indexed library titles in sorted order.
func (r *RegistryDocument) Titles() []string {
	titles := make([]string, 0, len(r.libraries))
	for t := range r.libraries {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles
}

// AuthenticationDocument looks up a library by title and fetches its
// authentication document. The result is nil, with no diagnostic, when
// the registry lists no library under that title; presenting the
// available titles is the caller's decision. A listed library with no
// authentication-document link is an error, and the fetch of the empty
// URL that follows fails the run.
func (r *RegistryDocument) AuthenticationDocument(ctx context.Context, name string) (*AuthenticationDocument, error) {
	catalog, ok := r.libraries[name]
	if !ok {
		return nil, nil
	}
	authURL := catalog.AuthDocumentLink()
	if authURL == "" {
		r.client.Reporter().Errorf("No authentication link found for library %s", name)
	}
	return NewAuthenticationDocument(ctx, r.client, authURL)
}

// SignInURL resolves the vendor-id sign-in endpoint against the
// registry host.
func (r *RegistryDocument) SignInURL() string {
	base, err := url.Parse(r.doc.URL)
	if err != nil {
		return shorttoken.SignInPath
	}
	return base.ResolveReference(&url.URL{Path: shorttoken.SignInPath}).String()
}

// ValidateShortToken decomposes a short client token and plays it
// against the registry's sign-in endpoint. A token that does not match
// the expected shape is fatal. The endpoint's verdict, whichever way
// it goes, is a report line: a <user> element in the response is
// success, anything else is an error.
func (r *RegistryDocument) ValidateShortToken(ctx context.Context, raw string) error {
	token, err := shorttoken.Decompose(raw)
	if err != nil {
		return err
	}
	request, err := token.SignInRequest()
	if err != nil {
		return fmt.Errorf("build sign-in body: %w", err)
	}

	rep := r.client.Reporter()
	signIn := r.SignInURL()
	rep.Printf("Posting sign-in request to %s", signIn)
	status, body, err := r.client.Post(ctx, signIn, shorttoken.SignInContentType, request)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		rep.Warnf("Status code was %d.", status)
	}
	if user, ok := shorttoken.FindUser(body); ok {
		rep.Printf("Sign-in succeeded: Adobe user identifier is %s.", user)
	} else {
		rep.Errorf("No <user> element found in sign-in response: %q", body)
	}
	return nil
}
