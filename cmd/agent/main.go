package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safeshield/telemetry/internal/config"
	"github.com/safeshield/telemetry/internal/logger"
	"github.com/safeshield/telemetry/internal/session"
	"github.com/safeshield/telemetry/internal/transport"

	"github.com/rs/zerolog/log"
)

// consoleNotifier stands in for the mobile shell's blocking alert.
type consoleNotifier struct{}

func (consoleNotifier) Warn(title, message string) {
	log.Warn().Str("title", title).Str("message", message).Msg("user warning")
}

// sessionGuard ends the simulated session on a risk verdict.
type sessionGuard struct {
	cancel context.CancelFunc
}

func (g *sessionGuard) EndSession(reason string) {
	log.Warn().Str("reason", reason).Msg("session guard: forcing logout")
	g.cancel()
}

func main() {

	// Load config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Init logger
	logger.Init("agent", cfg.Logging)
	log.Info().Str("user_id", cfg.Agent.UserID).Msg("starting safeshield agent")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	//------------------------------------------
	// CONNECT TO GATEWAY
	//------------------------------------------
	client := transport.NewClient(cfg.Agent.GatewayURL, transport.Options{
		ReconnectBase: time.Duration(cfg.Agent.ReconnectBaseMs) * time.Millisecond,
		ReconnectMax:  time.Duration(cfg.Agent.ReconnectMaxMs) * time.Millisecond,
		MaxPending:    cfg.Agent.MaxPendingSends,
	})
	if err := client.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("initial gateway connect failed, sends will queue after reconnect")
	}

	//------------------------------------------
	// START SESSION
	//------------------------------------------
	guard := &sessionGuard{cancel: cancel}
	sess := session.New(cfg.Agent.UserID, cfg, client, guard, consoleNotifier{})
	sess.FocusGained()

	//------------------------------------------
	// DRIVE SYNTHETIC CAPTURE EVENTS
	//------------------------------------------
	go driveCapture(ctx, sess)

	//------------------------------------------
	// WAIT FOR SHUTDOWN
	//------------------------------------------
	select {
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
		log.Warn().Msg("session ended")
	}

	//------------------------------------------
	// SHUTDOWN SEQUENCE
	//------------------------------------------
	log.Info().Msg("ending session...")
	sess.End()

	log.Info().Msg("closing transport...")
	client.Close()

	log.Info().Msg("agent stopped cleanly")
}

// driveCapture replays a plausible stream of gestures and keystrokes so the
// whole pipeline can be exercised without a device attached.
func driveCapture(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(400 * time.Millisecond)
	defer ticker.Stop()

	text := ""
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		i++

		// alternate swipes and keystrokes
		if i%2 == 0 {
			start := time.Now()
			angle := float64(i%8) * math.Pi / 4
			sess.OnGestureBegin(200, 400, start)
			sess.OnGestureEnd(200+120*math.Cos(angle), 400+120*math.Sin(angle), start.Add(180*time.Millisecond))
			continue
		}

		now := time.Now()
		sess.OnKeyDown("amount", now)
		sess.OnKeyUp("amount", now.Add(90*time.Millisecond))
		if i%7 == 0 && len(text) > 0 {
			text = text[:len(text)-1] // backspace
		} else {
			text += "7"
		}
		sess.OnTextChanged("amount", text, now.Add(100*time.Millisecond))
	}
}
