package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/NYPL-Simplified/self-test-client/internal/fetch"
	"github.com/NYPL-Simplified/self-test-client/internal/report"
	"github.com/NYPL-Simplified/self-test-client/internal/selftest"
	"github.com/NYPL-Simplified/self-test-client/pkg/shorttoken"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile     string
	registryURL string
	logLevel    string
	verbose     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Library Simplified ecosystem conformance client",
	Long: `selftest walks a library's OPDS surface the way a patron's reading
app would and reports every conformance problem it finds.

A run starts from a library registry (or directly from an OPDS server),
follows the registry entry to the library's authentication document, and
from there checks the patron profile, the bookshelf with its fulfillment
links, and the main catalog. Findings accumulate as WARN and ERROR lines;
the run itself keeps going.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.selftest")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		// Leave registryURL empty unless the user or the config set it;
		// run mode warns about ignored flags based on that distinction.
		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.selftest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry-url", "", "library registry URL (default "+selftest.DefaultRegistryURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "operational log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "echo every fetched document body into the report")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleverCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(librariesCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds the shared report-backed fetch client. The report
// transcript goes to stdout; the operational logger keeps to stderr so
// the two never interleave.
func newClient() (*fetch.Client, *zap.Logger, error) {
	logger, err := buildLogger()
	if err != nil {
		return nil, nil, err
	}
	rep := report.New(os.Stdout, verbose)
	return fetch.New(rep, fetch.WithLogger(logger)), logger, nil
}

func buildLogger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func registryOrDefault() string {
	if registryURL != "" {
		return registryURL
	}
	return selftest.DefaultRegistryURL
}

// ── run ──────────────────────────────────────────────────────────────────────

var (
	runLibrary    string
	runOPDSServer string
	runUsername   string
	runPassword   string
)

var runCmd = &cobra.Command{
	Use:   "run [library]",
	Short: "Run the conformance checks against one library",
	Long: `run performs the full conformance pass: registry entry, authentication
document, patron profile (including the Adobe short client token and its
sign-in round trip), bookshelf with every fulfillment link exercised, and
the main catalog.

The library may be given as a positional argument or with --library.
With --username the patron-facing documents are fetched with basic auth;
without it they are fetched anonymously and the server's refusals become
part of the report.

Examples:

  # Walk a library listed in the QA registry, as an authenticated patron
  selftest run "New York Public Library" --username 1234567890 --password 0000

  # Check an OPDS server directly, skipping the registry
  selftest run --opds-server https://circulation.example.org/`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runLibrary, "library", "", "library title as listed in the registry")
	runCmd.Flags().StringVar(&runOPDSServer, "opds-server", "", "OPDS server base URL; skips the registry")
	runCmd.Flags().StringVar(&runUsername, "username", "", "patron barcode for the authenticated checks")
	runCmd.Flags().StringVar(&runPassword, "password", "", "patron PIN")
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && runLibrary == "" {
		runLibrary = args[0]
	}

	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	runner := selftest.NewRunner(client, logger)
	return runner.Run(context.Background(), selftest.Config{
		RegistryURL: registryURL,
		Library:     runLibrary,
		OPDSServer:  runOPDSServer,
		Username:    runUsername,
		Password:    runPassword,
	})
}

// ── clever ───────────────────────────────────────────────────────────────────

var cleverCmd = &cobra.Command{
	Use:   "clever [authentication-document-url]",
	Short: "Check a library's OAuth-with-intermediary front door",
	Long: `clever reads an authentication document, requires exactly one
OAuth-with-intermediary mechanism, and follows that mechanism's
authenticate endpoint just far enough to capture the login URL a patron
would be bounced to. Completing the login in a browser is left to you.

Without an argument it probes the Open eBooks server:

  selftest clever
  selftest clever https://circulation.example.org/authentication_document`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		authDocURL := selftest.DefaultCleverAuthDocument
		if len(args) == 1 {
			authDocURL = args[0]
		}

		client, logger, err := newClient()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		runner := selftest.NewRunner(client, logger)
		return runner.CleverCheck(context.Background(), authDocURL)
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenVerify bool

var tokenCmd = &cobra.Command{
	Use:   "token <short-client-token>",
	Short: "Decompose a short client token, optionally verifying it",
	Long: `token splits a short client token into its four fields without
touching the network. With --verify it also plays the token against the
registry's Adobe sign-in endpoint, which is the authoritative check that
the signature is still good.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenVerify, "verify", false, "POST the token to the registry's sign-in endpoint")
}

func runToken(cmd *cobra.Command, args []string) error {
	tok, err := shorttoken.Decompose(args[0])
	if err != nil {
		return err
	}

	expires := tok.Timestamp
	if n, parseErr := strconv.ParseInt(tok.Timestamp, 10, 64); parseErr == nil {
		expires = fmt.Sprintf("%s (%s)", tok.Timestamp, time.Unix(n, 0).UTC().Format(time.RFC3339))
	}
	fmt.Printf("Library:   %s\n", tok.Library)
	fmt.Printf("Expires:   %s\n", expires)
	fmt.Printf("Patron ID: %s\n", tok.PatronID)
	fmt.Printf("Signature: %s\n", tok.SignatureHash)

	if !tokenVerify {
		return nil
	}
	fmt.Println()

	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	reg, err := selftest.NewRegistry(ctx, client, registryOrDefault())
	if err != nil {
		return err
	}
	if err := reg.ValidateShortToken(ctx, args[0]); err != nil {
		return err
	}
	client.Reporter().Summary()
	return nil
}

// ── libraries ────────────────────────────────────────────────────────────────

var librariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List the libraries the registry knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, logger, err := newClient()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		reg, err := selftest.NewRegistry(context.Background(), client, registryOrDefault())
		if err != nil {
			return err
		}
		for _, title := range reg.Titles() {
			fmt.Println(title)
		}
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the selftest version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("selftest %s (Library Simplified)\n", version)
	},
}
