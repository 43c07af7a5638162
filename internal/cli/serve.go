package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trymwestin/procare/internal/configflow"
	"github.com/trymwestin/procare/internal/core/state"
	"github.com/trymwestin/procare/internal/httpapi"
	"github.com/trymwestin/procare/internal/integration"
	"github.com/trymwestin/procare/internal/mqtt"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Long: `Load every linked entry, poll Procare on the configured interval and
serve the HTTP API. MQTT publishing starts when mqtt.enabled is set.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	store := entryStore()
	hub := integration.NewHub(integration.Options{
		Procare:        procareOptions(),
		Interval:       cfg.Procare.PollInterval,
		RefreshTimeout: cfg.Procare.RefreshTimeout,
	}, state.NewEventBus(log), log)

	list, err := store.List()
	if err != nil {
		return err
	}
	for _, e := range list {
		if _, err := hub.Setup(ctx, e); err != nil {
			log.Error("failed to load entry", "entry_id", e.ID, "error", err)
		}
	}
	log.Info("entries loaded", "count", len(hub.Runtimes()))

	var pub mqtt.Publisher = mqtt.NewStubPublisher(log)
	if cfg.MQTT.Enabled {
		pub = mqtt.NewHAPublisher(mqtt.Options{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		}, hub, log)
	}
	if err := pub.Start(ctx); err != nil {
		hub.Close(context.Background()) //nolint:errcheck
		return err
	}

	api := httpapi.NewServer(httpapi.Options{
		Hub:       hub,
		Entries:   store,
		Connector: configflow.ProcareConnector(procareOptions(), log),
		UIDir:     cfg.HTTP.UIDir,
		CORSAll:   cfg.HTTP.CORSAll,
	}, log)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			serveErr = fmt.Errorf("http: %w", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = errors.Join(
		serveErr,
		srv.Shutdown(shutdownCtx),
		pub.Stop(shutdownCtx),
		hub.Close(shutdownCtx),
	)
	return err
}
