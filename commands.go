package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"edumarket/api/config"
	"edumarket/api/handlers"
	"edumarket/api/orchestrator"
	"edumarket/api/store"
	"edumarket/api/utils"
)

const defaultConfigPath = "config/analytics.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "edumarket-analytics",
		Short:         "Marketing analytics and attribution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("CONFIG_PATH", defaultConfigPath), "path to the YAML config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
		setupLogging(cfg.Server.GinMode)
		return cfg, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	root.RunE = serve.RunE

	root.AddCommand(serve, newExportCmd(load), newImportCmd(load), newOptimizeCmd(load))
	return root
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start")
		return err
	}
	defer a.close()

	deps, err := a.routerDeps()
	if err != nil {
		return err
	}

	sched := orchestrator.NewScheduler(a.registry, cfg.Scheduler)
	sched.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info().Msg("Shutting down server...")
	case err := <-errCh:
		sched.Stop()
		log.Error().Err(err).Msg("API server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	sched.Stop()
	if err := sched.FlushEvents(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Final flush incomplete")
	}
	log.Info().Msg("Server exiting")
	return nil
}

func newExportCmd(load func() (*config.Config, error)) *cobra.Command {
	var visitorID, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one visitor's stored analytics data as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var doc *store.ExportDocument
			err := withVisitor(cmd.Context(), load, visitorID, func(ctx context.Context, an *orchestrator.Analytics) error {
				var err error
				doc, err = an.Store().Export(ctx)
				return err
			})
			if err != nil {
				return err
			}

			w := os.Stdout
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	_ = cmd.MarkFlagRequired("visitor")
	return cmd
}

func newImportCmd(load func() (*config.Config, error)) *cobra.Command {
	var visitorID, in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a visitor export back into device storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			var doc store.ExportDocument
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("invalid export document: %w", err)
			}
			return withVisitor(cmd.Context(), load, visitorID, func(ctx context.Context, an *orchestrator.Analytics) error {
				if err := an.Store().Import(ctx, &doc); err != nil {
					return err
				}
				log.Info().Str("visitor_id", visitorID).Int("keys", len(doc.Data)).Msg("Visitor data imported")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id")
	cmd.Flags().StringVarP(&in, "in", "i", "", "export file to read")
	_ = cmd.MarkFlagRequired("visitor")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func newOptimizeCmd(load func() (*config.Config, error)) *cobra.Command {
	var visitorIDs []string
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Trim oversized visitor storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, id := range visitorIDs {
				err := withVisitor(cmd.Context(), load, id, func(ctx context.Context, an *orchestrator.Analytics) error {
					trimmed, err := an.Optimize(ctx)
					if err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\ttrimmed=%t\n", id, trimmed)
					}
					return err
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&visitorIDs, "visitor", nil, "visitor ids to optimize")
	_ = cmd.MarkFlagRequired("visitor")
	return cmd
}

// withVisitor opens device storage without the network services and runs fn
// on one visitor.
func withVisitor(ctx context.Context, load func() (*config.Config, error), visitorID string, fn func(context.Context, *orchestrator.Analytics) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	return a.registry.Do(ctx, visitorID, func(an *orchestrator.Analytics) error {
		return fn(ctx, an)
	})
}

func newTokenIssuer(secret string) (*utils.TokenIssuer, error) {
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(b)
		log.Warn().Msg("JWT secret not set, using a random one; dashboard sessions end on restart")
	}
	return utils.NewTokenIssuer(secret, 24*time.Hour)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
