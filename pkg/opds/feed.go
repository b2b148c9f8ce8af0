package opds

import (
	"encoding/xml"
	"fmt"
	"sort"
)

// Feed is the subset of an Atom acquisition feed the client inspects.
type Feed struct {
	XMLName xml.Name `xml:"feed"`
	Title   string   `xml:"title"`
	Links   []Link   `xml:"link"`
	Entries []Entry  `xml:"entry"`
}

// Entry is a single publication within a feed. Title is a pointer so
// that an entry with no <title> element is distinguishable from one
// whose title is empty.
type Entry struct {
	Title *string `xml:"title"`
	Links []Link  `xml:"link"`
}

// TitleText returns the entry title, or "" when the element is absent.
func (e *Entry) TitleText() string {
	if e.Title == nil {
		return ""
	}
	return *e.Title
}

// FulfillmentLinks returns the entry's acquisition links. On a
// bookshelf feed these are the links a client exchanges for content.
func (e *Entry) FulfillmentLinks() []Link {
	return LinksWithRel(e.Links, RelAcquisition)
}

// ParseFeed decodes an Atom feed from XML bytes.
func ParseFeed(data []byte) (*Feed, error) {
	var f Feed
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode OPDS feed: %w", err)
	}
	return &f, nil
}

// Grouping is the result of partitioning a feed's entries by their
// rel="collection" links. A feed is grouped when at least one entry
// carries such a link; entries without one still count toward Total,
// so the per-group counts never exceed it.
type Grouping struct {
	// Groups maps a collection title to the number of entries filed
	// under it. The empty key collects entries whose collection link
	// has no title attribute.
	Groups map[string]int

	// Total is the number of entries in the feed, grouped or not.
	Total int
}

// Grouped reports whether any entry carried a collection link.
func (g Grouping) Grouped() bool { return len(g.Groups) > 0 }

// GroupTitles returns the group keys in sorted order for stable
// reporting.
func (g Grouping) GroupTitles() []string {
	titles := make([]string, 0, len(g.Groups))
	for t := range g.Groups {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles
}

// Classify scans every entry once and partitions the feed into
// collection groups. Classification is feed-level: a single entry with
// a collection link makes the whole feed grouped.
func (f *Feed) Classify() Grouping {
	g := Grouping{Total: len(f.Entries)}
	for i := range f.Entries {
		if coll := LinkWithRel(f.Entries[i].Links, RelCollection); coll != nil {
			if g.Groups == nil {
				g.Groups = make(map[string]int)
			}
			g.Groups[coll.Title]++
		}
	}
	return g
}
