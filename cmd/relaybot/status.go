package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/audit"
	"relaybot/internal/config"
	"relaybot/internal/httpclient"
	"relaybot/internal/identity"
)

// report prints check results and tallies them.
type report struct {
	w                      io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	fmt.Fprintf(r.w, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *report) warn(check, detail string) {
	fmt.Fprintf(r.w, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *report) fail(check, detail string) {
	fmt.Fprintf(r.w, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, credentials and dependencies",
		Long: `Verifies that the config loads, the backend is reachable, credentials
can acquire a token, temporary storage is writable and the audit ledger opens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			r := &report{w: cmd.OutOrStdout()}
			fmt.Fprintf(r.w, "relaybot status v%s\n\n", version)

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", "not found at "+cfgPath)
				fmt.Fprintln(r.w, "\nRun 'relaybot init' to create a default configuration.")
				return fmt.Errorf("config file missing")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config validation", "valid")

			runChecks(cmd.Context(), cfg, r)

			fmt.Fprintf(r.w, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func runChecks(ctx context.Context, cfg *config.Config, r *report) {
	if err := checkReachable(cfg.Backend.URL); err != nil {
		r.warn("Backend", fmt.Sprintf("%s unreachable: %v", cfg.Backend.URL, err))
	} else {
		r.pass("Backend", cfg.Backend.URL)
	}

	if !cfg.Identity.Complete() {
		r.warn("Identity", "no client credentials; PDF attachments will fail")
	} else if err := checkToken(ctx, cfg); err != nil {
		r.fail("Identity", err.Error())
	} else {
		r.pass("Identity", "token acquired for "+cfg.Identity.GraphScope)
	}

	if err := checkTempDir(cfg.Attachments.TempDir); err != nil {
		r.fail("Temp storage", err.Error())
	} else {
		dir := cfg.Attachments.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		r.pass("Temp storage", dir)
	}

	if cfg.Audit.Enabled {
		if summary, err := checkAudit(ctx, cfg.Audit.DBPath); err != nil {
			r.fail("Audit ledger", err.Error())
		} else {
			r.pass("Audit ledger", summary)
		}
	}

	if bc := cfg.Channels.Bot; bc.Enabled {
		addr := net.JoinHostPort(bc.Host, strconv.Itoa(bc.Port))
		if err := checkPort(addr); err != nil {
			r.warn("Bot endpoint", fmt.Sprintf("%s may be in use: %v", addr, err))
		} else {
			r.pass("Bot endpoint", addr+bc.Path)
		}
	}
}

// checkReachable dials the backend host without sending a query.
func checkReachable(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(u.Hostname(), port), 3*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

func checkToken(ctx context.Context, cfg *config.Config) error {
	timeout := seconds(cfg.Timeouts.TokenSeconds)
	creds, err := identity.New(identity.Config{
		TenantID:      cfg.Identity.TenantID,
		ClientID:      cfg.Identity.ClientID,
		ClientSecret:  cfg.Identity.ClientSecret,
		AuthorityHost: cfg.Identity.AuthorityHost,
		HTTPClient:    httpclient.New(timeout),
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err = creds.GetToken(ctx, cfg.Identity.GraphScope)
	return err
}

func checkTempDir(parent string) error {
	dir, err := os.MkdirTemp(parent, "relaybot-status-")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return os.RemoveAll(dir)
}

func checkAudit(ctx context.Context, dbPath string) (string, error) {
	store, err := audit.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return "", err
	}
	defer store.Close()

	counts, err := store.OutcomeCounts(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return "", err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return fmt.Sprintf("%s (%d exchanges in 24h, %d ok)", dbPath, total, counts["ok"]), nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
