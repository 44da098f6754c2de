package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/mockupstream"
)

func newMockUpstreamCmd() *cobra.Command {
	var (
		addr     string
		mode     string
		latency  time.Duration
		retry    time.Duration
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "mock-upstream",
		Short: "Run a scripted Gemini API mock",
		Long: "Run a scripted Gemini API mock. Point the server at it with\n" +
			"GEMINI_BASE_URL=http://<addr>/v1beta and any GEMINI_API_KEY.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := mockupstream.ParseMode(mode)
			if err != nil {
				return err
			}
			log := buildLogger(logLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr: addr,
				Handler: mockupstream.New(mockupstream.Config{
					Mode:       m,
					Latency:    latency,
					RetryAfter: retry,
					Logger:     log,
				}),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}
			return runMock(ctx, srv, log, m)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":19003", "listen address")
	cmd.Flags().StringVar(&mode, "mode", string(mockupstream.ModeOK),
		fmt.Sprintf("response mode, one of %v", mockupstream.Modes))
	cmd.Flags().DurationVar(&latency, "latency", 0, "artificial latency per request")
	cmd.Flags().DurationVar(&retry, "retry-after", 30*time.Second, "RetryInfo delay in ratelimit mode")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

func runMock(ctx context.Context, srv *http.Server, log *slog.Logger, mode mockupstream.Mode) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("mock upstream listening", slog.String("addr", srv.Addr), slog.String("mode", string(mode)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
