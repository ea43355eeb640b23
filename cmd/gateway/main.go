package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safeshield/telemetry/internal/bridge"
	"github.com/safeshield/telemetry/internal/config"
	"github.com/safeshield/telemetry/internal/gateway"
	"github.com/safeshield/telemetry/internal/logger"

	"github.com/rs/zerolog/log"
)

func main() {

	// Load config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Init logger
	logger.Init("gateway", cfg.Logging)
	log.Info().Str("listen", cfg.Gateway.ListenAddr).Msg("starting safeshield gateway")

	// OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	//------------------------------------------
	// ORACLE BRIDGE
	//------------------------------------------
	br := bridge.New(cfg.Gateway.OracleURL, cfg.Gateway.ReconnectDelay())

	//------------------------------------------
	// VERDICT AUDIT (optional)
	//------------------------------------------
	auditor := gateway.NewVerdictAuditor(cfg.Kafka.Brokers, cfg.Kafka.VerdictTopic)

	//------------------------------------------
	// HTTP + STREAM SERVER
	//------------------------------------------
	srv := gateway.NewServer(br, cfg.Gateway.TrainURL, cfg.Gateway.ForwardTimeout(), auditor)
	httpSrv := &http.Server{
		Addr:    cfg.Gateway.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server stopped")
		}
	}()
	log.Info().Msg("ingest endpoints running: /stream /api/data/getData /health /metrics")

	//------------------------------------------
	// WAIT FOR SHUTDOWN SIGNAL
	//------------------------------------------
	sig := <-sigChan
	log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")

	//------------------------------------------
	// SHUTDOWN SEQUENCE
	//------------------------------------------
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Info().Msg("stopping http server...")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown timeout")
	}

	log.Info().Msg("closing oracle bridge...")
	br.Close()

	if auditor != nil {
		log.Info().Msg("closing verdict auditor...")
		if err := auditor.Close(); err != nil {
			log.Warn().Err(err).Msg("auditor close failed")
		}
	}

	log.Info().Msg("gateway stopped cleanly")
}
