package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eventflow/faasctl/console"
	"github.com/eventflow/faasctl/metrics"
	"github.com/eventflow/faasctl/util"
)

const metricsAddrFlag = "metrics-addr"

// renderInterval is how often an open view is redrawn when its content changed.
const renderInterval = 200 * time.Millisecond

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the function list refreshed until interrupted",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String(metricsAddrFlag, "", "serve Prometheus metrics on this address, e.g. :9090")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return a.withConsole(func(c *console.Console) error {
			return follow(cmd, a, c, c.OpenListView, func(v *console.View, now time.Time) string {
				return renderFunctions(v.Functions(), now)
			})
		})
	}
	return cmd
}

// follow opens a view and redraws it on change until the command is interrupted or the view
// fails with a rejected session.
func follow(cmd *cobra.Command, a *app, c *console.Console, open func(...console.ViewOption) *console.View, render func(*console.View, time.Time) string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	guard := util.NewShutdownGuard(ctx)
	defer guard.ShutdownAndWait()

	if flag := cmd.Flags().Lookup(metricsAddrFlag); flag != nil && flag.Value.String() != "" {
		serveMetrics(guard, flag.Value.String(), a.log)
	}

	failed := make(chan error, 1)
	view := open(console.WithErrorHandler(func(err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Refresh failed: %s\n", err)
		if _, ok := c.Sessions.Current(); !ok {
			select {
			case failed <- err:
			default:
			}
		}
	}))
	defer view.Close()

	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()

	last := ""
	for {
		if out := render(view, time.Now()); out != last {
			write(cmd.OutOrStdout(), out)
			last = out
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return err
		case <-ticker.C:
		}
	}
}

func serveMetrics(guard *util.ShutdownGuard, addr string, log *zap.Logger) {
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	guard.Go(func() {
		log.Info("Serving metrics.", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Serving metrics failed.", zap.Error(err))
		}
	})
	guard.Go(func() {
		<-guard.ShuttingDown
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
}
