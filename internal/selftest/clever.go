package selftest

import (
	"context"
	"errors"
	"fmt"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

// DefaultCleverAuthDocument is the authentication document probed when
// the Clever check is given no other.
const DefaultCleverAuthDocument = "https://circulation.openebooks.us/USOEI/authentication_document"

// CleverCheck exercises a library's OAuth-with-intermediary front
// door. It reads the authentication document, requires exactly one
// OAuth-with-intermediary mechanism, hits that mechanism's
// authenticate endpoint with redirects suppressed, and reports the URL
// the server bounces the patron to for login. Completing the login in
// a browser is left to the human running the check.
func (r *Runner) CleverCheck(ctx context.Context, authDocURL string) error {
	rep := r.client.Reporter()
	authDoc, err := NewAuthenticationDocument(ctx, r.client, authDocURL)
	if err != nil {
		return err
	}

	mechanisms := authDoc.Mechanisms(opds.AuthTypeOAuthIntermediary)
	if len(mechanisms) != 1 {
		return fmt.Errorf("expected exactly one OAuth-with-intermediary mechanism, found %d", len(mechanisms))
	}
	authenticateURL := mechanisms[0].LinkWithRel(opds.RelAuthenticate)
	if authenticateURL == "" {
		return errors.New("OAuth-with-intermediary mechanism has no authenticate link")
	}

	probe := fetch.New(rep, fetch.WithLogger(r.logger), fetch.WithoutRedirects())
	status, location, err := probe.RedirectLocation(ctx, authenticateURL)
	if err != nil {
		return err
	}
	if location == "" {
		return fmt.Errorf("authenticate endpoint did not redirect (status %d)", status)
	}
	rep.Printf("Open up this URL in a web browser and log in:")
	rep.Printf("%s", location)
	return nil
}
