// Package mockserver is a self-contained stand-in for the lending
// ecosystem: a library registry, one library's circulation endpoints,
// fulfillment payloads, and an Adobe vendor-id sign-in endpoint, all
// speaking the wire formats the conformance client checks. It exists
// so the client can be exercised offline and so its failure handling
// can be demonstrated against known-good responses.
//
// Every URL the served documents hand out is derived from the incoming
// request's Host header, so the same Server works behind httptest, on
// localhost, or wherever it is deployed.
package mockserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NYPL-Simplified/self-test-client/pkg/shorttoken"
)

// The mock library's fixed identity.
const (
	libraryTitle = "Hypothetical Library"
	libraryCode  = "NYHYPL"
	vendorName   = "NYPL"
)

// Server holds the canned ecosystem state.
type Server struct {
	patrons *PatronStore
	secret  []byte
	logger  *zap.Logger
}

// New builds a Server with an empty patron store and a fresh token
// signing secret.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		patrons: NewPatronStore(),
		secret:  []byte(uuid.NewString()),
		logger:  logger,
	}
}

// Patrons returns the server's patron store so callers can seed it.
func (s *Server) Patrons() *PatronStore { return s.patrons }

// Register installs every route on router. Middleware is the caller's
// business; the routes work on a bare engine.
func (s *Server) Register(router *gin.Engine) {
	router.GET("/libraries/qa", s.registryDocument)
	router.GET("/library/authentication_document", s.authenticationDocument)
	router.GET("/library/groups", s.groupedFeed)
	router.GET("/library/crawlable", s.crawlableFeed)
	router.GET("/library/loans", s.requirePatron, s.loansFeed)
	router.GET("/library/patrons/me", s.requirePatron, s.patronProfile)
	router.GET("/fulfill/acsm", s.fulfillACSM)
	router.GET("/fulfill/audiobook", s.fulfillAudiobook)
	router.GET("/fulfill/item1", s.fulfillAudioItem)
	router.GET("/fulfill/item2", s.fulfillAudioItem)
	router.GET("/fulfill/epub", s.fulfillEPUB)
	router.GET("/oauth/authenticate", s.oauthAuthenticate)
	router.POST(shorttoken.SignInPath, s.signIn)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// baseURL reconstructs the externally visible origin from the request.
// The mock speaks plain HTTP only.
func baseURL(c *gin.Context) string {
	return "http://" + c.Request.Host
}
