// Package fulfill validates the payloads behind fulfillment links: the
// vouchers and manifests a server hands out in exchange for a loan.
//
// Dispatch is a fixed table from content-type string to handler,
// selected by exact string equality only. Types without a registered
// handler get the generic treatment: fetch the payload and let the
// standard response checks speak. Handlers never fail the run; every
// content-level finding is a report line. Only transport errors
// propagate.
package fulfill

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

// maxDepth bounds recursive dispatch. An audiobook manifest fulfills
// its first reading-order item, and a well-formed item is never itself
// a manifest; anything deeper is a malformed server.
const maxDepth = 2

type handlerFunc func(ctx context.Context, doc *fetch.Document, depth int) error

// Dispatcher routes a fulfillment link's payload to the validator for
// its declared content type. The handler table is fixed at
// construction.
type Dispatcher struct {
	client   *fetch.Client
	handlers map[string]handlerFunc
}

// NewDispatcher builds a Dispatcher with the ACSM and audiobook
// handlers registered.
func NewDispatcher(client *fetch.Client) *Dispatcher {
	d := &Dispatcher{client: client, handlers: make(map[string]handlerFunc)}
	d.handlers[opds.TypeACSM] = d.validateACSM
	d.handlers[opds.TypeAudiobookManifest] = d.validateAudiobook
	return d
}

// Fulfill fetches the payload at url and validates it according to
// contentType. The declared type doubles as the fetch expectation, so
// a server that serves something else earns the usual content-type
// warning before the handler even looks at the bytes.
func (d *Dispatcher) Fulfill(ctx context.Context, url, name, contentType string, creds *fetch.Credentials) error {
	return d.fulfill(ctx, url, name, contentType, creds, 0)
}

func (d *Dispatcher) fulfill(ctx context.Context, url, name, contentType string, creds *fetch.Credentials, depth int) error {
	if depth >= maxDepth {
		d.client.Reporter().Errorf("Fulfillment recursion too deep at %q; not following further.", name)
		return nil
	}

	doc := d.client.Document(url, name, creds, contentType)
	handler, ok := d.handlers[contentType]
	if !ok {
		handler = d.validateGeneric
	}
	return handler(ctx, doc, depth)
}

// validateGeneric fetches the payload and makes no content assertions.
// The response checks in the fetch layer are the whole validation.
func (d *Dispatcher) validateGeneric(ctx context.Context, doc *fetch.Document, _ int) error {
	_, err := doc.Body(ctx)
	return err
}

// validateACSM looks for a fulfillmentToken element anywhere in the
// payload. This is a plausibility check on the voucher, not a format
// validation, so absence is only a warning.
func (d *Dispatcher) validateACSM(ctx context.Context, doc *fetch.Document, _ int) error {
	body, err := doc.Body(ctx)
	if err != nil {
		return err
	}
	r := d.client.Reporter()
	if hasElement(body, "fulfillmentToken") {
		r.Printf("Found fulfillmentToken tag -- this looks like a real ACSM file.")
	} else {
		r.Warnf("No fulfillmentToken tag -- this might not be a real ACSM file.")
	}
	return nil
}

// audiobookManifest is the slice of an audiobook manifest the client
// inspects. ReadingOrder is a pointer so an absent key is
// distinguishable from an empty array; the two are different
// conformance failures.
type audiobookManifest struct {
	ReadingOrder *[]manifestItem `json:"readingOrder"`
}

type manifestItem struct {
	Href string `json:"href"`
	Type string `json:"type"`
}

// validateAudiobook checks the manifest's reading order and then
// recursively fulfills the first item. Credentials are not forwarded;
// reading-order items routinely live outside the authenticated origin.
func (d *Dispatcher) validateAudiobook(ctx context.Context, doc *fetch.Document, depth int) error {
	body, err := doc.Body(ctx)
	if err != nil {
		return err
	}

	r := d.client.Reporter()
	var manifest audiobookManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		r.Errorf("Audiobook manifest is not parseable as JSON.")
		return nil
	}
	if manifest.ReadingOrder == nil {
		r.Errorf("readingOrder not present in audiobook manifest")
		return nil
	}
	order := *manifest.ReadingOrder
	if len(order) == 0 {
		r.Errorf("No items in reading order.")
		return nil
	}

	r.Printf("Items in reading order: %d", len(order))
	r.Printf("Trying to fulfill first item.")
	first := order[0]
	return d.fulfill(ctx, first.Href, "first audiobook item", first.Type, nil, depth+1)
}

// hasElement reports whether an element with the given local name
// appears anywhere in the document. Parse errors end the walk; whatever
// was found before the damage stands.
func hasElement(body []byte, local string) bool {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == local {
			return true
		}
	}
}
