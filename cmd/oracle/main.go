package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/safeshield/telemetry/internal/config"
	"github.com/safeshield/telemetry/internal/logger"
)

// Stub scoring oracle for local development. It speaks the real wire
// contract but classifies with a fixed heuristic instead of a model.

type predictRequest struct {
	UserID string `json:"user_id"`
	Data   struct {
		Swiping map[string][]float64 `json:"swiping"`
		Typing  map[string][]float64 `json:"typing"`
	} `json:"data"`
}

type predictionResult struct {
	RiskCategory string  `json:"risk_category"`
	Confidence   float64 `json:"confidence"`
}

func main() {

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	logger.Init("oracle", cfg.Logging)
	log.Info().Msg("starting stub scoring oracle on :8000")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	r := mux.NewRouter()
	r.HandleFunc("/predict", handlePredict)
	r.HandleFunc("/train_model", handleTrain).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "prediction_service": "available"})
	})

	httpSrv := &http.Server{Addr: ":8000", Handler: r}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("oracle server stopped")
		}
	}()

	sig := <-sigChan
	log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info().Msg("oracle stopped cleanly")
}

func handlePredict(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closed")
	ctx := r.Context()
	log.Info().Str("remote", r.RemoteAddr).Msg("prediction connection open")

	for {
		var req predictRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}

		if req.UserID == "" {
			_ = wsjson.Write(ctx, conn, map[string]string{"error": "Missing user_id in request"})
			continue
		}
		if len(req.Data.Swiping) == 0 && len(req.Data.Typing) == 0 {
			_ = wsjson.Write(ctx, conn, map[string]string{"error": "Missing data in request"})
			continue
		}

		predictions := map[string]map[string]predictionResult{}
		if len(req.Data.Swiping) > 0 {
			predictions["swiping"] = map[string]predictionResult{
				"prediction_result": classifySwiping(req.Data.Swiping),
			}
		}
		if len(req.Data.Typing) > 0 {
			predictions["typing"] = map[string]predictionResult{
				"prediction_result": classifyTyping(req.Data.Typing),
			}
		}

		log.Info().Str("user_id", req.UserID).Msg("prediction completed")
		_ = wsjson.Write(ctx, conn, map[string]any{
			"result": map[string]any{
				"user_id":     req.UserID,
				"predictions": predictions,
			},
		})
	}
}

// classifySwiping bands the mean swipe speed: what a trained model would do,
// minus the model.
func classifySwiping(swiping map[string][]float64) predictionResult {
	speeds := swiping["swipeSpeeds"]
	m := mean(speeds)
	switch {
	case len(speeds) == 0:
		return predictionResult{RiskCategory: "medium_risk", Confidence: 0.4}
	case m > 10:
		return predictionResult{RiskCategory: "critical_risk", Confidence: 0.95}
	case m > 5:
		return predictionResult{RiskCategory: "high_risk", Confidence: 0.8}
	case m < 0.05:
		return predictionResult{RiskCategory: "medium_risk", Confidence: 0.6}
	default:
		return predictionResult{RiskCategory: "low_risk", Confidence: 0.9}
	}
}

func classifyTyping(typing map[string][]float64) predictionResult {
	rates := typing["backspaceRates"]
	if n := len(rates); n > 0 && rates[n-1] > 0.5 {
		return predictionResult{RiskCategory: "high_risk", Confidence: 0.7}
	}
	return predictionResult{RiskCategory: "low_risk", Confidence: 0.85}
}

func handleTrain(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No JSON data provided", "code": "NO_DATA"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing user_id in request", "code": "MISSING_USER_ID"})
		return
	}
	if len(req.Data.Swiping) == 0 && len(req.Data.Typing) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing data in request", "code": "MISSING_DATA"})
		return
	}

	log.Info().Str("user_id", req.UserID).Msg("training submission accepted")
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Model training completed successfully",
		"user_id":   req.UserID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
