package selftest_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/internal/report"
	"github.com/NYPL-Simplified/self-test-client/internal/selftest"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
	"github.com/NYPL-Simplified/self-test-client/pkg/shorttoken"
)

const testToken = "NYNYPL|1621462513|3e0d6602-2446-4f1a-bcad-4e68bcffdfc1|xzu4JDv93sjAEzx1sSIxyWrXn"

// newRunner builds a Runner whose report accumulates in the returned
// buffer.
func newRunner(t *testing.T) (*selftest.Runner, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	client := fetch.New(report.New(&buf, false))
	return selftest.NewRunner(client, zap.NewNop()), &buf
}

// stubEcosystem stands up a registry listing one library plus the
// library's own documents, all on one server.
func stubEcosystem(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()

	mux.HandleFunc("/libraries/qa", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", opds.TypeOPDS2)
		fmt.Fprintf(w, `{"catalogs":[{"metadata":{"title":"Test Library"},"links":[{"href":"%s/library/authentication_document","type":"%s"}]}]}`,
			srv.URL, opds.TypeAuthDocument)
	})

	mux.HandleFunc("/library/authentication_document", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("authentication document fetched with credentials: %s", got)
		}
		w.Header().Set("Content-Type", opds.TypeAuthDocument)
		fmt.Fprintf(w, `{
			"title": "Test Library",
			"authentication": [{"type": %q}],
			"links": [
				{"rel": %q, "href": "%s/library/patrons/me"},
				{"rel": %q, "href": "%s/library/loans"},
				{"rel": "start", "href": "%s/library/groups", "type": %q}
			]
		}`, opds.AuthTypeBasic,
			opds.RelUserProfile, srv.URL,
			opds.RelShelf, srv.URL,
			srv.URL, opds.TypeOPDS1Acquisition)
	})

	requireAuth := func(w http.ResponseWriter, r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "patron" || pass != "hunter2" {
			t.Errorf("%s fetched without patron credentials", r.URL.Path)
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("/library/patrons/me", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		w.Header().Set("Content-Type", opds.TypePatronProfile)
		fmt.Fprintf(w, `{"simplified:authorization_identifier":"1234","drm":[{"drm:vendor":"NYPL","drm:scheme":%q,"drm:clientToken":%q}]}`,
			opds.DRMSchemeACS, testToken)
	})

	mux.HandleFunc("/AdobeAuth/SignIn", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("sign-in called with method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != shorttoken.SignInContentType {
			t.Errorf("sign-in content type = %q, want %q", ct, shorttoken.SignInContentType)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte("<username>NYNYPL|1621462513|3e0d6602-2446-4f1a-bcad-4e68bcffdfc1</username>")) {
			t.Errorf("sign-in body missing username: %s", body)
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<signInResponse xmlns="http://ns.adobe.com/adept"><user>urn:uuid:13021c73</user></signInResponse>`)
	})

	mux.HandleFunc("/library/loans", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		w.Header().Set("Content-Type", opds.TypeOPDS1Acquisition)
		fmt.Fprintf(w, `<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Loans</title>
  <entry>
    <title>A Book</title>
    <link rel="http://opds-spec.org/acquisition" href="%s/fulfill/1" type="%s"/>
  </entry>
</feed>`, srv.URL, opds.TypeACSM)
	})

	mux.HandleFunc("/fulfill/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", opds.TypeACSM)
		fmt.Fprint(w, `<fulfillmentToken xmlns="http://ns.adobe.com/adept"><resourceItemInfo/></fulfillmentToken>`)
	})

	mux.HandleFunc("/library/groups", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", opds.TypeOPDS1Acquisition)
		fmt.Fprint(w, `<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Groups</title>
  <entry><title>One</title><link rel="collection" href="/g/fiction" title="Fiction"/></entry>
  <entry><title>Two</title><link rel="collection" href="/g/fiction" title="Fiction"/></entry>
  <entry><title>Three</title><link rel="collection" href="/g/nonfiction" title="Nonfiction"/></entry>
</feed>`)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_registryMode(t *testing.T) {
	srv := stubEcosystem(t)
	runner, buf := newRunner(t)

	err := runner.Run(context.Background(), selftest.Config{
		RegistryURL: srv.URL + "/libraries/qa",
		Library:     "Test Library",
		Username:    "patron",
		Password:    "hunter2",
	})
	if err != nil {
		t.Fatalf("Run() error = %v\nreport:\n%s", err, buf.String())
	}

	out := buf.String()
	wants := []string{
		"Retrieved library registry from " + srv.URL + "/libraries/qa",
		"Retrieved authentication document from " + srv.URL + "/library/authentication_document",
		"Retrieved patron profile document from " + srv.URL + "/library/patrons/me",
		"Adobe token found: NYPL, " + testToken,
		"Posting sign-in request to " + srv.URL + "/AdobeAuth/SignIn",
		"Sign-in succeeded: Adobe user identifier is urn:uuid:13021c73.",
		"Retrieved bookshelf from " + srv.URL + "/library/loans",
		`Retrieved fulfillment of "A Book" (supposedly as ` + opds.TypeACSM + ") from " + srv.URL + "/fulfill/1",
		"Found fulfillmentToken tag -- this looks like a real ACSM file.",
		"Retrieved main catalog from " + srv.URL + "/library/groups",
		"This is a grouped feed:",
		" Fiction: 2 titles",
		" Nonfiction: 1 titles",
		"Done: 0 warnings, 0 errors.",
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\nreport:\n%s", want, out)
		}
	}
	if strings.Contains(out, "WARN:") || strings.Contains(out, "ERROR:") {
		t.Errorf("clean run produced findings:\n%s", out)
	}
}

func TestRun_validationOrder(t *testing.T) {
	srv := stubEcosystem(t)
	runner, buf := newRunner(t)

	err := runner.Run(context.Background(), selftest.Config{
		RegistryURL: srv.URL + "/libraries/qa",
		Library:     "Test Library",
		Username:    "patron",
		Password:    "hunter2",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out := buf.String()
	profile := strings.Index(out, "patron profile document")
	shelf := strings.Index(out, "bookshelf")
	catalog := strings.Index(out, "main catalog")
	if profile < 0 || shelf < 0 || catalog < 0 {
		t.Fatalf("a validation stage is missing from the report:\n%s", out)
	}
	if profile > shelf || shelf > catalog {
		t.Errorf("stages out of order: profile at %d, bookshelf at %d, catalog at %d", profile, shelf, catalog)
	}
}

func TestRun_libraryNotFound(t *testing.T) {
	srv := stubEcosystem(t)
	runner, buf := newRunner(t)

	err := runner.Run(context.Background(), selftest.Config{
		RegistryURL: srv.URL + "/libraries/qa",
		Library:     "No Such Library",
	})
	if !errors.Is(err, selftest.ErrLibraryNotFound) {
		t.Fatalf("Run() error = %v, want ErrLibraryNotFound", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Library not found: No Such Library",
		"Available libraries:",
		" Test Library",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\nreport:\n%s", want, out)
		}
	}
}

func TestRun_opdsServerMode(t *testing.T) {
	srv := stubEcosystem(t)

	tests := []struct {
		name   string
		server string
	}{
		{"bare base URL", srv.URL + "/library"},
		{"trailing slash", srv.URL + "/library/"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			runner, buf := newRunner(t)
			err := runner.Run(context.Background(), selftest.Config{
				OPDSServer:  tc.server,
				RegistryURL: "https://registry.invalid/",
				Library:     "Ignored",
				Username:    "patron",
				Password:    "hunter2",
			})
			if err != nil {
				t.Fatalf("Run() error = %v\nreport:\n%s", err, buf.String())
			}

			out := buf.String()
			wants := []string{
				"WARNING: `--opds-server` specified. Ignoring `--registry-url` and `--library` flags.",
				"Retrieved authentication document from " + srv.URL + "/library/authentication_document",
				"No registry in this run; not verifying the token.",
			}
			for _, want := range wants {
				if !strings.Contains(out, want) {
					t.Errorf("report missing %q\nreport:\n%s", want, out)
				}
			}
			if strings.Contains(out, "library registry") {
				t.Errorf("registry consulted in direct server mode:\n%s", out)
			}
			if strings.Contains(out, "Posting sign-in request") {
				t.Errorf("token verified without a registry:\n%s", out)
			}
		})
	}
}

func TestRun_unparseableRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", opds.TypeOPDS2)
		fmt.Fprint(w, "certainly not JSON")
	}))
	t.Cleanup(srv.Close)
	runner, buf := newRunner(t)

	err := runner.Run(context.Background(), selftest.Config{
		RegistryURL: srv.URL,
		Library:     "Any Library",
	})
	if !errors.Is(err, selftest.ErrLibraryNotFound) {
		t.Fatalf("Run() error = %v, want ErrLibraryNotFound", err)
	}
	if !strings.Contains(buf.String(), "ERROR: Library registry is not parseable as JSON.") {
		t.Errorf("report missing registry parse error:\n%s", buf.String())
	}
}

func TestRun_unreachableRegistry(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	url := srv.URL
	srv.Close()
	runner, _ := newRunner(t)

	err := runner.Run(context.Background(), selftest.Config{
		RegistryURL: url,
		Library:     "Any Library",
	})
	if err == nil {
		t.Fatal("Run() succeeded against a dead host")
	}
	if errors.Is(err, selftest.ErrLibraryNotFound) {
		t.Fatalf("Run() error = %v, want a transport error", err)
	}
	if !strings.Contains(err.Error(), "library registry") {
		t.Errorf("Run() error = %v, want it to name the library registry", err)
	}
}
