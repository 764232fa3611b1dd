// Babelcast: headless broadcast client.
//
// A publisher streams an Ogg/Opus source into a Babelcast channel over
// WebRTC and optionally records it; a subscriber picks a channel and plays
// what it receives. Signaling goes over WebSocket.
//
// It can be launched interactively (no -role) or non-interactively via a
// YAML config plus CLI flags (-role, -config, -wsUrl, -channel, -source,
// -listen).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/babelcast/internal/config"
	"github.com/1ureka/babelcast/internal/control"
	"github.com/1ureka/babelcast/internal/media"
	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/publisher"
	"github.com/1ureka/babelcast/internal/store"
	"github.com/1ureka/babelcast/internal/subscriber"
	"github.com/1ureka/babelcast/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	role := flag.String("role", "", "Role: publisher or subscriber")
	configPath := flag.String("config", "", "Path to a YAML config file")
	wsURLFlag := flag.String("wsUrl", "", "Signaling WebSocket URL (overrides config)")
	channelFlag := flag.String("channel", "", "Channel to join or listen to")
	sourceFlag := flag.String("source", "", "Ogg/Opus file streamed as the microphone (publisher only)")
	listenFlag := flag.String("listen", "", "Control API address, e.g. 127.0.0.1:8090")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		util.LogWarning("failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := util.SetLevel(cfg.Logging.Level); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Babelcast — v%s", version))
	pterm.Println()

	applyFlags(cfg, *wsURLFlag, *channelFlag, *sourceFlag)
	switch {
	case *role != "":
		cfg.Role = config.Role(*role)
	case *configPath == "":
		// Neither -role nor -config → interactive mode.
		askSettings(cfg)
	}
	if *listenFlag != "" {
		cfg.Control.Listen = *listenFlag
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("babelcast stopped")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// run starts the chosen role together with the control API and the stats
// reporter and blocks until ctx is cancelled or the role gives up.
func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(cfg.State.Dir)
	if err != nil {
		return err
	}
	m := metrics.New()

	g, ctx := errgroup.WithContext(ctx)
	util.StartStatsReporter(ctx)

	switch cfg.Role {
	case config.RolePublisher:
		p, err := publisher.New(cfg, openSource(cfg), st, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return p.Run(ctx) })
		serveControl(ctx, g, cfg.Control.Listen, control.NewPublisherHandler(p, p.Saver(), m))

	case config.RoleSubscriber:
		s, err := subscriber.New(cfg, st, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return s.Run(ctx) })
		serveControl(ctx, g, cfg.Control.Listen, control.NewSubscriberHandler(s, m))
	}

	return g.Wait()
}

// openSource opens the configured audio file. On failure the publisher still
// joins and signals, just without captured audio.
func openSource(cfg *config.Config) media.Source {
	src, err := media.OpenOgg(cfg.Publisher.Source, media.OggOptions{
		Loop:          cfg.Publisher.LoopSource,
		FrameDuration: cfg.Publisher.FrameInterval.ToDuration(),
	})
	if err != nil {
		util.LogError("failed to open audio source: %v", err)
		return nil
	}
	return src
}

// serveControl runs the control API on addr when one is configured.
func serveControl(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) {
	if addr == "" {
		return
	}
	g.Go(func() error {
		if err := control.Serve(ctx, addr, h); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API failed: %w", err)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// applyFlags overrides config values with non-empty CLI flags.
func applyFlags(cfg *config.Config, wsURL, channel, source string) {
	if wsURL != "" {
		cfg.Signaling.URL = strings.TrimSpace(wsURL)
	}
	if channel != "" {
		cfg.Publisher.Channel = channel
		cfg.Subscriber.Channel = channel
	}
	if source != "" {
		cfg.Publisher.Source = source
	}
}

// askSettings falls back to interactive prompts when neither -role nor
// -config is provided.
func askSettings(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Publisher  — Broadcast into a channel", "Subscriber — Listen to a channel"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Publisher") {
		cfg.Role = config.RolePublisher
	} else {
		cfg.Role = config.RoleSubscriber
	}

	if cfg.Signaling.URL == "" {
		cfg.Signaling.URL = askURL(cfg.Signaling)
	}

	if cfg.Role == config.RolePublisher && cfg.Publisher.Source == "" {
		cfg.Publisher.Source = askText("Ogg/Opus file to broadcast (e.g. voice.ogg)")
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL(sc config.SignalingConfig) string {
	for {
		raw := askText("Signaling URL (e.g. wss://babelcast.example.com/ws)")

		sc.URL = raw
		if err := sc.Validate(); err == nil {
			return raw
		}

		util.LogWarning("invalid input: please enter a ws:// or wss:// URL")
		pterm.Println()
	}
}

// askText prompts until a non-empty answer is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()

		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
	}
}
