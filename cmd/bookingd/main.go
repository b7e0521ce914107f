// bookingd serves the booking engine over HTTP. Configuration comes
// from a YAML file plus environment variables for secrets.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	orchestration "github.com/koscakluka/booking-core/core"
	"github.com/koscakluka/booking-core/core/calendars"
	"github.com/koscakluka/booking-core/core/calendars/google"
	"github.com/koscakluka/booking-core/core/calendars/ical"
	"github.com/koscakluka/booking-core/core/chat"
	"github.com/koscakluka/booking-core/core/intents/openai"
	"github.com/koscakluka/booking-core/core/sessions"
	"github.com/koscakluka/booking-core/core/sessions/sqlite"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	app := &cli.App{
		Name:  "bookingd",
		Usage: "Conversational calendar booking server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "bookingd.yaml", Usage: "Path to the configuration file"},
			&cli.StringFlag{Name: "addr", Usage: "Listen address, overriding the config file"},
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("bookingd failed", "error", err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	config, err := LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		config.Addr = addr
	}
	if config.Resolver.APIKey == "" {
		return fmt.Errorf("resolver.api_key (or OPENAI_API_KEY) must be set")
	}

	timezone, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	gateway, err := buildGateway(config.Calendar)
	if err != nil {
		return err
	}
	store, err := buildStore(config.Sessions)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver := openai.NewResolver(config.Resolver.APIKey, openai.WithModel(config.Resolver.Model))

	options := []orchestration.EngineOption{
		orchestration.WithIntentResolver(resolver),
		orchestration.WithCalendarGateway(gateway),
		orchestration.WithSessionStore(store),
		orchestration.WithTimezone(timezone),
	}
	if config.Engine.ConfidenceThreshold > 0 {
		options = append(options, orchestration.WithConfidenceThreshold(config.Engine.ConfidenceThreshold))
	}
	if config.Engine.ConfirmationTTL > 0 {
		options = append(options, orchestration.WithConfirmationTTL(time.Duration(config.Engine.ConfirmationTTL)))
	}
	if config.Engine.HistoryLimit > 0 {
		options = append(options, orchestration.WithHistoryLimit(config.Engine.HistoryLimit))
	}
	engine := orchestration.NewEngine(options...)

	server := &http.Server{
		Addr:              config.Addr,
		Handler:           otelhttp.NewHandler(chat.NewHandler(engine), "chat"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info("bookingd listening", "addr", config.Addr, "calendar", config.Calendar.Provider, "sessions", config.Sessions.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
	case <-c.Context.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildGateway(config CalendarConfig) (calendars.Gateway, error) {
	switch config.Provider {
	case "google":
		if config.Google.AccessToken == "" {
			return nil, fmt.Errorf("calendar.google.access_token (or GOOGLE_CALENDAR_TOKEN) must be set")
		}
		return google.NewClient(config.Google.AccessToken, config.Google.CalendarID), nil
	case "ical":
		return ical.NewSource(config.ICal.URL), nil
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", config.Provider)
	}
}

func buildStore(config SessionsConfig) (sessions.Store, error) {
	switch config.Backend {
	case "memory":
		var opts []sessions.MemoryStoreOption
		if config.TTL > 0 {
			opts = append(opts, sessions.WithTTL(time.Duration(config.TTL)))
		}
		return sessions.NewMemoryStore(opts...), nil
	case "sqlite":
		var opts []sqlite.StoreOption
		if config.TTL > 0 {
			opts = append(opts, sqlite.WithTTL(time.Duration(config.TTL)))
		}
		return sqlite.Open(config.Path, opts...)
	default:
		return nil, fmt.Errorf("unknown session backend %q", config.Backend)
	}
}
