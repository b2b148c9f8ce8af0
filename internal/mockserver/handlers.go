package mockserver

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

// registryDocument serves the OPDS 2 registry listing. The second
// library deliberately advertises no authentication document so the
// error path can be demonstrated against it.
func (s *Server) registryDocument(c *gin.Context) {
	base := baseURL(c)
	reg := opds.Registry{Catalogs: []opds.Catalog{
		{
			Metadata: opds.CatalogMetadata{
				ID:          entryID("libraries/hypothetical"),
				Title:       libraryTitle,
				Description: "A small but enthusiastic lending library.",
			},
			Links: []opds.Link{
				{Href: base + "/library/authentication_document", Type: opds.TypeAuthDocument},
			},
		},
		{
			Metadata: opds.CatalogMetadata{
				ID:          entryID("libraries/underconfigured"),
				Title:       "Underconfigured Library",
				Description: "Registered, but never finished setting up.",
			},
			Links: []opds.Link{
				{Href: base + "/underconfigured", Type: "text/html"},
			},
		},
	}}
	c.Header("Content-Type", opds.TypeOPDS2)
	c.JSON(http.StatusOK, reg)
}

// authenticationDocument serves the library's authentication document:
// basic auth plus a Clever-style OAuth intermediary, and the links the
// conformance walk follows.
func (s *Server) authenticationDocument(c *gin.Context) {
	base := baseURL(c)
	doc := opds.AuthDocument{
		ID:          base + "/library/authentication_document",
		Title:       libraryTitle,
		Description: "Log in with your library card.",
		Links: []opds.Link{
			{Rel: opds.RelStart, Href: base + "/library/groups", Type: opds.TypeOPDS1Acquisition},
			{Rel: opds.RelShelf, Href: base + "/library/loans", Type: opds.TypeOPDS1Acquisition},
			{Rel: opds.RelUserProfile, Href: base + "/library/patrons/me", Type: opds.TypePatronProfile},
		},
		Authentication: []opds.Mechanism{
			{
				Type:        opds.AuthTypeBasic,
				Description: "Library Barcode",
			},
			{
				Type:        opds.AuthTypeOAuthIntermediary,
				Description: "Sign in with Clever",
				Links: []opds.Link{
					{Rel: opds.RelAuthenticate, Href: base + "/oauth/authenticate"},
				},
			},
		},
	}
	c.Header("Content-Type", opds.TypeAuthDocument)
	c.JSON(http.StatusOK, doc)
}

// groupedFeed serves the main catalog: every book filed under its
// lane via a collection link.
func (s *Server) groupedFeed(c *gin.Context) {
	base := baseURL(c)
	now := feedTimestamp()
	feed := atomFeed{
		Xmlns:   atomNS,
		ID:      entryID("feeds/groups"),
		Title:   libraryTitle,
		Updated: now,
		Links:   []atomLink{{Rel: "self", Href: base + "/library/groups", Type: opds.TypeOPDS1Acquisition}},
	}
	for _, b := range catalogBooks {
		feed.Entries = append(feed.Entries, atomEntry{
			ID:      entryID("books/" + b.slug),
			Title:   b.title,
			Author:  atomAuthor{Name: b.author},
			Updated: now,
			Links: []atomLink{
				{Rel: opds.RelCollection, Href: base + "/library/crawlable", Title: b.lane},
			},
		})
	}
	s.writeFeed(c, feed)
}

// crawlableFeed serves the same books as one flat list.
func (s *Server) crawlableFeed(c *gin.Context) {
	base := baseURL(c)
	now := feedTimestamp()
	feed := atomFeed{
		Xmlns:   atomNS,
		ID:      entryID("feeds/crawlable"),
		Title:   libraryTitle + " (all titles)",
		Updated: now,
		Links:   []atomLink{{Rel: "self", Href: base + "/library/crawlable", Type: opds.TypeOPDS1Acquisition}},
	}
	for _, b := range catalogBooks {
		feed.Entries = append(feed.Entries, atomEntry{
			ID:      entryID("books/" + b.slug),
			Title:   b.title,
			Author:  atomAuthor{Name: b.author},
			Updated: now,
			Links: []atomLink{
				{Rel: "http://opds-spec.org/acquisition/borrow", Href: base + "/library/borrow/" + b.slug, Type: opds.TypeOPDSEntry},
			},
		})
	}
	s.writeFeed(c, feed)
}

// loansFeed serves the authenticated patron's bookshelf with one loan
// per fulfillment kind.
func (s *Server) loansFeed(c *gin.Context) {
	base := baseURL(c)
	now := feedTimestamp()
	feed := atomFeed{
		Xmlns:   atomNS,
		ID:      entryID("feeds/loans"),
		Title:   "Loans",
		Updated: now,
		Links:   []atomLink{{Rel: "self", Href: base + "/library/loans", Type: opds.TypeOPDS1Acquisition}},
	}
	for _, l := range loanBooks {
		feed.Entries = append(feed.Entries, atomEntry{
			ID:      entryID("books/" + l.slug),
			Title:   l.title,
			Author:  atomAuthor{Name: l.author},
			Updated: now,
			Links: []atomLink{
				{Rel: opds.RelAcquisition, Href: base + l.fulfillPath, Type: l.fulfillType},
			},
		})
	}
	s.writeFeed(c, feed)
}

// patronProfile serves the authenticated patron's profile document
// with a freshly minted short client token.
func (s *Server) patronProfile(c *gin.Context) {
	p := patronFromCtx(c)
	if p == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no patron on request"})
		return
	}
	profile := opds.Profile{
		AuthorizationIdentifier: p.Barcode,
		DRM: []opds.DRMStatus{{
			Vendor:      vendorName,
			Scheme:      opds.DRMSchemeACS,
			ClientToken: s.clientToken(p),
		}},
	}
	c.Header("Content-Type", opds.TypePatronProfile)
	c.JSON(http.StatusOK, profile)
}

// acsmVoucher is the Adobe Content Server message handed out for the
// ACS-protected loan.
const acsmVoucher = `<fulfillmentToken xmlns="http://ns.adobe.com/adept" fulfillmentType="loan">
  <distributor>urn:uuid:9cb786ec-8538-4bd3-a637-af38902cb87e</distributor>
  <resourceItemInfo>
    <resource>urn:uuid:06525b35-9f08-4f40-afb8-a4d4a8d5046f</resource>
    <metadata>
      <dc:title xmlns:dc="http://purl.org/dc/elements/1.1/">A Tale of Two Cities</dc:title>
      <dc:creator xmlns:dc="http://purl.org/dc/elements/1.1/">Charles Dickens</dc:creator>
    </metadata>
  </resourceItemInfo>
</fulfillmentToken>`

func (s *Server) fulfillACSM(c *gin.Context) {
	fulfillmentsTotal.WithLabelValues("acsm").Inc()
	c.Data(http.StatusOK, opds.TypeACSM, append([]byte(xml.Header), acsmVoucher...))
}

// fulfillAudiobook serves a minimal audiobook manifest whose reading
// order points back at this server.
func (s *Server) fulfillAudiobook(c *gin.Context) {
	fulfillmentsTotal.WithLabelValues("audiobook").Inc()
	base := baseURL(c)
	manifest := gin.H{
		"@context": "https://readium.org/webpub-manifest/context.jsonld",
		"metadata": gin.H{
			"@type":    "https://schema.org/Audiobook",
			"title":    "Middlemarch",
			"author":   "George Eliot",
			"duration": 212400,
		},
		"readingOrder": []gin.H{
			{"href": base + "/fulfill/item1", "type": "audio/mpeg", "title": "Part 1", "duration": 106200},
			{"href": base + "/fulfill/item2", "type": "audio/mpeg", "title": "Part 2", "duration": 106200},
		},
	}
	c.Header("Content-Type", opds.TypeAudiobookManifest)
	c.JSON(http.StatusOK, manifest)
}

// audioStub is one padded MPEG frame, enough to look like audio.
var audioStub = append([]byte{0xff, 0xfb, 0x90, 0x64}, make([]byte, 412)...)

func (s *Server) fulfillAudioItem(c *gin.Context) {
	fulfillmentsTotal.WithLabelValues("audio-item").Inc()
	c.Data(http.StatusOK, "audio/mpeg", audioStub)
}

// epubStub opens with a zip local-file header so the payload looks
// like an EPUB container.
var epubStub = []byte("PK\x03\x04mimetypeapplication/epub+zip")

func (s *Server) fulfillEPUB(c *gin.Context) {
	fulfillmentsTotal.WithLabelValues("epub").Inc()
	c.Data(http.StatusOK, typeEPUB, epubStub)
}

// oauthAuthenticate bounces the patron toward the intermediary the way
// a Clever-backed circulation manager would.
func (s *Server) oauthAuthenticate(c *gin.Context) {
	c.Redirect(http.StatusFound,
		"https://clever.example.org/oauth/authorize?client_id=hypothetical&state="+uuid.NewString())
}

// signInRequest mirrors the vendor-id sign-in body.
type signInRequest struct {
	XMLName  xml.Name `xml:"signInRequest"`
	Method   string   `xml:"method,attr"`
	Username string   `xml:"username"`
	Password string   `xml:"password"`
}

// signIn verifies a short client token played back as username and
// password and answers with the patron's Adobe user id.
func (s *Server) signIn(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		signInsTotal.WithLabelValues("malformed").Inc()
		s.signInError(c, http.StatusBadRequest, "E_READ_BODY")
		return
	}
	var req signInRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		signInsTotal.WithLabelValues("malformed").Inc()
		s.signInError(c, http.StatusBadRequest, "E_PARSE")
		return
	}

	parts := strings.Split(req.Username, "|")
	if len(parts) != 3 {
		signInsTotal.WithLabelValues("malformed").Inc()
		s.signInError(c, http.StatusBadRequest, "E_BAD_USERNAME")
		return
	}
	p, ok := s.patrons.LookupAdobeID(parts[2])
	if !ok {
		signInsTotal.WithLabelValues("rejected").Inc()
		s.signInError(c, http.StatusUnauthorized, "E_UNKNOWN_PATRON")
		return
	}
	if !s.verifySignature(req.Username, req.Password) {
		signInsTotal.WithLabelValues("rejected").Inc()
		s.signInError(c, http.StatusUnauthorized, "E_AUTH_FAILED")
		return
	}

	signInsTotal.WithLabelValues("success").Inc()
	s.logger.Info("vendor-id sign-in", zap.String("barcode", p.Barcode))
	c.Data(http.StatusOK, "application/xml", []byte(fmt.Sprintf(
		`<signInResponse xmlns="http://ns.adobe.com/adept"><user>%s</user></signInResponse>`, p.AdobeUserID)))
}

func (s *Server) signInError(c *gin.Context, status int, code string) {
	c.Data(status, "application/xml", []byte(fmt.Sprintf(
		`<error xmlns="http://ns.adobe.com/adept" data="%s"/>`, code)))
}

const patronKey = "mockserver.patron"

// requirePatron gates a route behind patron basic auth. Failures are
// answered with a problem detail document, the way a circulation
// manager would refuse them.
func (s *Server) requirePatron(c *gin.Context) {
	barcode, pin, ok := c.Request.BasicAuth()
	if !ok {
		s.unauthorized(c, "Patron credentials are required for this feed.")
		return
	}
	p, ok := s.patrons.Authenticate(barcode, pin)
	if !ok {
		s.logger.Info("patron authentication failed", zap.String("barcode", barcode))
		s.unauthorized(c, "The barcode or PIN is wrong.")
		return
	}
	c.Set(patronKey, p)
	c.Next()
}

func (s *Server) unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", `Basic realm="Library card"`)
	c.Header("Content-Type", opds.TypeProblemDetail)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"type":   "http://librarysimplified.org/terms/problem/credentials-invalid",
		"title":  "Invalid credentials",
		"status": http.StatusUnauthorized,
		"detail": detail,
	})
}

// patronFromCtx returns the patron requirePatron stored on the
// request, or nil.
func patronFromCtx(c *gin.Context) *Patron {
	v, ok := c.Get(patronKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Patron)
	return p
}
