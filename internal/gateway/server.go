package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/safeshield/telemetry/internal/bridge"
)

// Machine-readable codes carried on HTTP error bodies. Never shown to end
// users; the client maps them to generic messaging.
const (
	CodeMissingUserID     = "MISSING_USER_ID"
	CodeNoData            = "NO_DATA"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeServerError       = "SERVER_ERROR"
	CodeServerUnavailable = "SERVER_UNAVAILABLE"
)

// Server is the ingest gateway: standardize -> validate -> forward. It is
// stateless per request; the only shared resources are the oracle bridge and
// the count of open client streams gating its reconnect policy.
type Server struct {
	bridge         *bridge.Bridge
	metrics        *Metrics
	auditor        *VerdictAuditor
	trainURL       string
	forwardTimeout time.Duration
	httpClient     *http.Client

	streamMu      sync.Mutex
	activeStreams int
}

func NewServer(b *bridge.Bridge, trainURL string, forwardTimeout time.Duration, auditor *VerdictAuditor) *Server {
	if forwardTimeout <= 0 {
		forwardTimeout = 15 * time.Second
	}
	return &Server{
		bridge:         b,
		metrics:        NewMetrics(),
		auditor:        auditor,
		trainURL:       trainURL,
		forwardTimeout: forwardTimeout,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stream", s.handleStream)
	r.HandleFunc("/api/data/getData", s.handleTrainingData).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "gateway",
		"oracle":  s.bridge.State().String(),
	})
}

type trainingRequest struct {
	UserID string         `json:"userId"`
	Data2  map[string]any `json:"data2"`
}

type trainingErrorBody struct {
	Error    string   `json:"error"`
	Details  []string `json:"details,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Code     string   `json:"code"`
}

// handleTrainingData accepts a batch training submission and relays it to the
// training counterpart of the oracle as POST /train_model.
func (s *Server) handleTrainingData(w http.ResponseWriter, r *http.Request) {
	var req trainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, trainingErrorBody{Error: "invalid JSON body", Code: CodeNoData})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusUnauthorized, trainingErrorBody{Error: "Unauthorized: No user ID found.", Code: CodeMissingUserID})
		return
	}

	// data2 is one flat bag of field arrays; the alias tables split it into
	// the swipe and typing groups
	payload := Standardize(RawBatch{
		UserID: req.UserID,
		Data:   RawData{Swiping: req.Data2, Typing: req.Data2},
	})
	result := Validate(payload)
	if !result.IsValid {
		s.metrics.ValidationErrors.Inc()
		writeJSON(w, http.StatusBadRequest, trainingErrorBody{
			Error:    "validation failed",
			Details:  result.Errors,
			Warnings: result.Warnings,
			Code:     CodeValidationFailed,
		})
		return
	}
	s.metrics.ValidationWarns.Add(float64(len(result.Warnings)))

	oracleReq := bridge.Request{
		UserID: payload.UserID,
		Data:   bridge.Payload{Swiping: payload.Swiping, Typing: payload.Typing},
	}
	body, err := json.Marshal(oracleReq)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, trainingErrorBody{Error: "internal server error", Code: CodeServerError})
		return
	}

	resp, err := s.httpClient.Post(s.trainURL+"/train_model", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("training service unreachable")
		writeJSON(w, http.StatusServiceUnavailable, trainingErrorBody{Error: "training service unavailable", Code: CodeServerUnavailable})
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("user_id", req.UserID).Msg("training service rejected submission")
		writeJSON(w, http.StatusInternalServerError, trainingErrorBody{
			Error:   fmt.Sprintf("training service returned status %d", resp.StatusCode),
			Details: []string{string(respBody)},
			Code:    CodeServerError,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Data sent successfully to prediction server.",
		"response": json.RawMessage(respBody),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("write response failed")
	}
}
