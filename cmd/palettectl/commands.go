package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"palette/internal/bootstrap"
	"palette/internal/export"
	"palette/internal/infra"
	"palette/internal/middleware"
	"palette/internal/sweeper"
	"palette/internal/webhook"
)

// --- sign ---

var signCmd = &cobra.Command{
	Use:   "sign <body-file>",
	Short: "Print webhook headers for a payload, as the provider would sign it",
	Long: `Print webhook headers for a payload, as the provider would sign it.

Examples:
  palettectl sign event.json --secret whsec_...
  cat event.json | palettectl sign - | xargs -I{} curl -H {} ...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		id, _ := cmd.Flags().GetString("id")
		if secret == "" {
			secret = os.Getenv("REPLICATE_WEBHOOK_SECRET")
		}
		key, err := webhook.DecodeSecret(secret)
		if err != nil {
			return err
		}
		body, err := readBody(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		if id == "" {
			id = "msg_" + uuid.NewString()
		}
		return writeHeaders(cmd.OutOrStdout(), webhook.SignedHeaders(id, time.Now(), body, key))
	},
}

func init() {
	signCmd.Flags().String("secret", "", "signing secret (defaults to REPLICATE_WEBHOOK_SECRET)")
	signCmd.Flags().String("id", "", "webhook message id (random when empty)")
}

func readBody(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return data, nil
}

func writeHeaders(w io.Writer, h map[string][]string) error {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			if _, err := fmt.Fprintf(w, "%s: %s\n", k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
		token, err := middleware.SignJWT(secret, middleware.TokenClaims{
			Sub: args[0],
			Exp: time.Now().Add(ttl).Unix(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

// --- reconcile ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <prediction-id>...",
	Short: "Fetch predictions from the provider and apply their status to the ledger",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			failed := 0
			for _, id := range args {
				outcome, err := svc.Poller.Sync(ctx, id)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, outcome)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d predictions failed to reconcile", failed, len(args))
			}
			return nil
		})
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep over stale pending and processing records",
	RunE: func(cmd *cobra.Command, args []string) error {
		staleAfter, _ := cmd.Flags().GetDuration("stale-after")
		batch, _ := cmd.Flags().GetInt("batch")
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			sw := sweeper.New(svc.Ledger, svc.Poller, sweeper.Options{StaleAfter: staleAfter, Batch: batch},
				infra.Component(infra.NewLogger(svc.Config.AppEnv, svc.Config.LogLevel), "sweeper"))
			report, err := sw.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		})
	},
}

func init() {
	sweepCmd.Flags().Duration("stale-after", 5*time.Minute, "only records untouched for this long")
	sweepCmd.Flags().Int("batch", 100, "maximum records to reconcile")
}

func withServices(ctx context.Context, fn func(context.Context, *bootstrap.Services) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	svc, err := bootstrap.New(ctx, cfg, infra.NewLogger(cfg.AppEnv, cfg.LogLevel))
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <owner-id>",
	Short: "Write an owner's completed generations to a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit")
		return withServices(cmd.Context(), func(ctx context.Context, svc *bootstrap.Services) error {
			fetch := export.HTTPFetcher(&http.Client{Timeout: svc.Config.DownloadTimeout})
			if svc.StaticDir != "" {
				fetch = export.FileFetcher(svc.StaticDir)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			logger := infra.Component(infra.NewLogger(svc.Config.AppEnv, svc.Config.LogLevel), "export")
			manifest, err := export.New(svc.Ledger, fetch, logger).Write(ctx, f, args[0], limit)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(out)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d generations to %s\n", len(manifest.Items), out)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("out", "palette-export.zip", "archive path")
	exportCmd.Flags().Int("limit", 100, "most recent completed generations to include")
}
