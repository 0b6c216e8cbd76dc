package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"rdstrack/internal/events"
	"rdstrack/internal/shutdown"
	"rdstrack/internal/web"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API the tuner posts station and RT updates to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sh := shutdown.New(cmd.Context())
			sh.Listen()

			a, err := openApp(sh.Context())
			if err != nil {
				return err
			}
			sh.AddCleanup(a.close)
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			hub := events.NewHub()
			p, err := a.newPipeline(pipelineOptions{events: hub})
			if err != nil {
				sh.Shutdown()
				return err
			}
			sh.AddCleanup(p.Close)

			server := web.NewServer(sh.Context(), p, hub, a.log.Named("web"),
				web.WithCovers(a.cache),
				web.WithRdsLog(a.rdslog),
				web.WithReplay(a.replayFactory(false)),
				web.WithRules(a.rules),
				web.WithMetrics(a.metrics),
			)
			server.Jobs().StartCleanup(sh.Context())
			retention := time.Duration(a.cfg.RdsLog.RetentionDays) * 24 * time.Hour
			a.rdslog.StartCleanup(sh.Context(), retention, time.Hour)
			// pick up rules edited by the CLI while the server runs
			a.table.StartRefresh(sh.Context(), 5*time.Second)

			httpServer := &http.Server{
				Addr:         addr,
				Handler:      server.Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			sh.Go(func(ctx context.Context) {
				a.log.Info("Starting server on %s", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			})

			var serveErr error
			select {
			case <-sh.Context().Done():
			case serveErr = <-errc:
			}

			a.log.Info("Shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				a.log.Error("Server shutdown error: %v", err)
			}
			sh.Wait()
			sh.Shutdown()
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8765)")
	return cmd
}
