// Package selftest walks a library's OPDS surface the way a patron's
// reading app would and reports every conformance problem it sees
// along the way.
//
// A run starts from a library registry (or directly from an OPDS
// server), follows the registry entry to the library's authentication
// document, and from there visits the patron profile, the bookshelf
// with its fulfillment links, and the main catalog. Each stop is a
// typed document wrapping one fetch; diagnostics accumulate on the
// shared report. Almost nothing stops a run: only failing to reach a
// host, asking for a library the registry does not list, or holding a
// short client token too mangled to decompose.
package selftest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/internal/fulfill"
)

// DefaultRegistryURL is the library registry consulted when a run
// names no other.
const DefaultRegistryURL = "https://libraryregistry.librarysimplified.org/libraries/qa"

// ErrLibraryNotFound is returned by Run when the registry has no
// library under the requested title. The available titles have already
// been reported by the time it is returned.
var ErrLibraryNotFound = errors.New("library not found in registry")

// Config tells a run where to start and who the patron is. Leaving
// OPDSServer empty selects registry mode; setting it skips the
// registry and reads the server's authentication document directly.
type Config struct {
	RegistryURL string
	Library     string
	OPDSServer  string
	Username    string
	Password    string
}

// Runner drives one conformance pass over a single library.
type Runner struct {
	client     *fetch.Client
	dispatcher *fulfill.Dispatcher
	logger     *zap.Logger
}

// NewRunner builds a Runner around a fetch client.
func NewRunner(client *fetch.Client, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		client:     client,
		dispatcher: fulfill.NewDispatcher(client),
		logger:     logger,
	}
}

// Run performs the whole pass: resolve the authentication document,
// attach credentials, then validate the patron profile, the bookshelf
// and the main catalog in that order, and close with the score line.
// The returned error is nil even when the report is full of findings;
// it is non-nil only for the few conditions that abort a run.
func (r *Runner) Run(ctx context.Context, cfg Config) error {
	rep := r.client.Reporter()

	var registry *RegistryDocument
	var authDoc *AuthenticationDocument
	var err error
	if cfg.OPDSServer != "" {
		if cfg.RegistryURL != "" || cfg.Library != "" {
			rep.Printf("WARNING: `--opds-server` specified. Ignoring `--registry-url` and `--library` flags.")
		}
		authDoc, err = NewAuthenticationDocument(ctx, r.client, authDocumentURL(cfg.OPDSServer))
		if err != nil {
			return err
		}
	} else {
		registryURL := cfg.RegistryURL
		if registryURL == "" {
			registryURL = DefaultRegistryURL
		}
		registry, err = NewRegistry(ctx, r.client, registryURL)
		if err != nil {
			return err
		}
		authDoc, err = registry.AuthenticationDocument(ctx, cfg.Library)
		if err != nil {
			return err
		}
		if authDoc == nil {
			rep.Printf("Library not found: %s", cfg.Library)
			rep.Printf("Available libraries:")
			for _, title := range registry.Titles() {
				rep.Printf(" %s", title)
			}
			return fmt.Errorf("%w: %q", ErrLibraryNotFound, cfg.Library)
		}
	}

	if cfg.Username != "" {
		authDoc.SetCredentials(cfg.Username, cfg.Password)
	}
	r.logger.Debug("authentication document resolved",
		zap.String("library", authDoc.Title()),
		zap.Bool("authenticated", cfg.Username != ""),
	)

	if profile := authDoc.ProfileDocument(); profile != nil {
		if err := profile.Validate(ctx, registry); err != nil {
			return err
		}
	}
	if shelf := authDoc.Bookshelf(); shelf != nil {
		if err := shelf.Validate(ctx, r.dispatcher); err != nil {
			return err
		}
	}
	if err := authDoc.MainCatalog().Validate(ctx); err != nil {
		return err
	}

	rep.Summary()
	return nil
}

// authDocumentURL appends the well-known authentication document path
// to an OPDS server's base URL.
func authDocumentURL(server string) string {
	if !strings.HasSuffix(server, "/") {
		server += "/"
	}
	return server + "authentication_document"
}
