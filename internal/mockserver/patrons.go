package mockserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Patron is one card holder known to the mock library.
type Patron struct {
	Barcode     string
	AdobeUserID string // urn:uuid:…
	pinHash     []byte
}

// PatronStore holds patrons in memory with bcrypt-hashed PINs. It is
// safe for concurrent use by the request handlers.
type PatronStore struct {
	mu        sync.RWMutex
	byBarcode map[string]*Patron
	byAdobeID map[string]*Patron
}

// NewPatronStore returns an empty store.
func NewPatronStore() *PatronStore {
	return &PatronStore{
		byBarcode: make(map[string]*Patron),
		byAdobeID: make(map[string]*Patron),
	}
}

// Add registers a patron under barcode with the given PIN and mints
// their Adobe user id. Re-adding a barcode replaces the earlier
// patron.
func (s *PatronStore) Add(barcode, pin string) (*Patron, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash PIN: %w", err)
	}
	id := uuid.NewString()
	p := &Patron{
		Barcode:     barcode,
		AdobeUserID: "urn:uuid:" + id,
		pinHash:     hash,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byBarcode[barcode] = p
	s.byAdobeID[id] = p
	return p, nil
}

// Authenticate checks barcode and PIN and returns the patron on a
// match.
func (s *PatronStore) Authenticate(barcode, pin string) (*Patron, bool) {
	s.mu.RLock()
	p, ok := s.byBarcode[barcode]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword(p.pinHash, []byte(pin)) != nil {
		return nil, false
	}
	return p, true
}

// LookupAdobeID finds a patron by the bare uuid portion of their Adobe
// user id, the way the sign-in endpoint sees them.
func (s *PatronStore) LookupAdobeID(id string) (*Patron, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byAdobeID[id]
	return p, ok
}

// clientToken mints a short client token for p: the pipe-joined
// library code, expiry, and patron uuid, signed with the server
// secret.
func (s *Server) clientToken(p *Patron) string {
	expires := time.Now().Add(30 * time.Minute).Unix()
	patronID := strings.TrimPrefix(p.AdobeUserID, "urn:uuid:")
	username := fmt.Sprintf("%s|%d|%s", libraryCode, expires, patronID)
	return username + "|" + s.sign(username)
}

// sign computes the token signature over the username portion.
func (s *Server) sign(username string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a sign-in password against the signature this
// server would have minted for username.
func (s *Server) verifySignature(username, signature string) bool {
	return hmac.Equal([]byte(s.sign(username)), []byte(signature))
}
