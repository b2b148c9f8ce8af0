package mockserver

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

const atomNS = "http://www.w3.org/2005/Atom"

// atomFeed is the server-side shape of an acquisition feed. The opds
// package stays read-side; the server renders its own elements.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Xmlns   string      `xml:"xmlns,attr"`
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string     `xml:"id"`
	Title   string     `xml:"title"`
	Author  atomAuthor `xml:"author"`
	Updated string     `xml:"updated"`
	Links   []atomLink `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Rel   string `xml:"rel,attr,omitempty"`
	Href  string `xml:"href,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Title string `xml:"title,attr,omitempty"`
}

// book is one catalog fixture.
type book struct {
	slug   string
	title  string
	author string
	lane   string
}

var catalogBooks = []book{
	{"a-tale-of-two-cities", "A Tale of Two Cities", "Charles Dickens", "Fiction"},
	{"frankenstein", "Frankenstein", "Mary Shelley", "Fiction"},
	{"moby-dick", "Moby-Dick", "Herman Melville", "Fiction"},
	{"walden", "Walden", "Henry David Thoreau", "Nonfiction"},
	{"on-liberty", "On Liberty", "John Stuart Mill", "Nonfiction"},
}

// loan pairs a book with the fulfillment payload the mock hands out
// for it.
type loan struct {
	book
	fulfillPath string
	fulfillType string
}

const typeEPUB = "application/epub+zip"

var loanBooks = []loan{
	{book{"a-tale-of-two-cities", "A Tale of Two Cities", "Charles Dickens", ""}, "/fulfill/acsm", opds.TypeACSM},
	{book{"middlemarch", "Middlemarch", "George Eliot", ""}, "/fulfill/audiobook", opds.TypeAudiobookManifest},
	{book{"frankenstein", "Frankenstein", "Mary Shelley", ""}, "/fulfill/epub", typeEPUB},
}

// entryID derives a stable urn:uuid for a fixture.
func entryID(slug string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://hypothetical.librarysimplified.org/"+slug))
	return "urn:uuid:" + id.String()
}

// writeFeed marshals an Atom feed with the XML declaration prepended.
func (s *Server) writeFeed(c *gin.Context, feed atomFeed) {
	out, err := xml.Marshal(feed)
	if err != nil {
		s.logger.Error("marshal feed", zap.String("feed", feed.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render feed"})
		return
	}
	c.Data(http.StatusOK, opds.TypeOPDS1Acquisition, append([]byte(xml.Header), out...))
}

// feedTimestamp is the updated value written on feeds and entries.
func feedTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
