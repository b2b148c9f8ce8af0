package selftest

import (
	"context"
	"fmt"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/internal/fulfill"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

// FeedDocument is an OPDS 1 acquisition feed reached from the
// authentication document, typically the main catalog.
type FeedDocument struct {
	client *fetch.Client
	doc    *fetch.Document
}

// URL returns the feed's location, or "" when the authentication
// document offered no usable link.
func (f *FeedDocument) URL() string { return f.doc.URL }

// Validate fetches the feed and reports whether it is grouped into
// collection lanes or a flat list, with title counts either way.
func (f *FeedDocument) Validate(ctx context.Context) error {
	body, err := f.doc.Body(ctx)
	if err != nil {
		return err
	}
	rep := f.client.Reporter()
	feed, err := opds.ParseFeed(body)
	if err != nil {
		rep.Errorf("Could not parse %s as an OPDS feed.", f.doc.Name)
		return nil
	}
	grouping := feed.Classify()
	if grouping.Grouped() {
		rep.Printf("This is a grouped feed:")
		for _, title := range grouping.GroupTitles() {
			rep.Printf(" %s: %d titles", title, grouping.Groups[title])
		}
	} else {
		rep.Printf("This is an ungrouped feed containing %d titles.", grouping.Total)
	}
	return nil
}

// BookshelfDocument is the patron's loans feed. Beyond the shape
// checks a plain feed gets, validating a bookshelf exercises every
// fulfillment link it advertises.
type BookshelfDocument struct {
	client *fetch.Client
	doc    *fetch.Document
}

// Validate fetches the shelf and dispatches every entry's fulfillment
// links. An entry with no fulfillment links is a warning; the loan
// exists but cannot be exercised.
func (b *BookshelfDocument) Validate(ctx context.Context, dispatcher *fulfill.Dispatcher) error {
	body, err := b.doc.Body(ctx)
	if err != nil {
		return err
	}
	rep := b.client.Reporter()
	feed, err := opds.ParseFeed(body)
	if err != nil {
		rep.Errorf("Could not parse %s as an OPDS feed.", b.doc.Name)
		return nil
	}
	for i := range feed.Entries {
		entry := &feed.Entries[i]
		links := entry.FulfillmentLinks()
		if len(links) == 0 {
			rep.Warnf("No fulfillment links found for patron; cannot test fulfillment.")
			continue
		}
		for _, link := range links {
			name := fmt.Sprintf("fulfillment of %q (supposedly as %s)", entry.TitleText(), link.Type)
			if err := dispatcher.Fulfill(ctx, link.Href, name, link.Type, b.doc.Credentials); err != nil {
				return err
			}
		}
	}
	return nil
}
