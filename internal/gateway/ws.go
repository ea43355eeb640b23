package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/safeshield/telemetry/internal/bridge"
)

const (
	eventSendFeatures     = "send-features"
	eventPredictionResult = "prediction-result"
	eventError            = "error"
)

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// streamConn wraps one client connection; writes are serialized because
// verdicts for concurrent batches come back asynchronously.
type streamConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (sc *streamConn) send(ctx context.Context, env envelope) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, sc.conn, env)
}

// handleStream owns one client's telemetry stream: read send-features,
// standardize, validate, forward, push prediction-result back.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	sc := &streamConn{conn: conn}
	s.streamOpened()
	defer s.streamClosed()
	defer conn.Close(websocket.StatusNormalClosure, "closed")

	ctx := r.Context()
	log.Info().Str("remote", r.RemoteAddr).Msg("client stream open")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Info().Str("remote", r.RemoteAddr).Msg("client stream closed")
			} else {
				log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("client stream read failed")
			}
			return
		}

		// decode by hand: a garbled frame is discarded, the stream stays up
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("malformed stream message discarded")
			continue
		}

		switch env.Event {
		case eventSendFeatures:
			s.handleBatch(ctx, sc, env.Payload)
		default:
			log.Debug().Str("event", env.Event).Msg("ignoring unknown stream event")
		}
	}
}

func (s *Server) handleBatch(ctx context.Context, sc *streamConn, payload json.RawMessage) {
	s.metrics.BatchesReceived.Inc()

	var raw RawBatch
	if err := json.Unmarshal(payload, &raw); err != nil {
		// one bad message never tears the stream down
		log.Warn().Err(err).Msg("malformed send-features payload discarded")
		s.sendError(ctx, sc, "invalid telemetry payload", CodeNoData)
		return
	}
	if raw.UserID == "" {
		s.sendError(ctx, sc, "missing user_id", CodeMissingUserID)
		return
	}

	standardized := Standardize(raw)
	result := Validate(standardized)
	for _, warning := range result.Warnings {
		log.Warn().Str("user_id", raw.UserID).Str("warning", warning).Msg("telemetry validation warning")
	}
	s.metrics.ValidationWarns.Add(float64(len(result.Warnings)))
	if !result.IsValid {
		s.metrics.ValidationErrors.Inc()
		log.Warn().Str("user_id", raw.UserID).Strs("errors", result.Errors).Msg("telemetry batch rejected")
		s.sendError(ctx, sc, result.Errors[0], CodeValidationFailed)
		return
	}

	// scoring happens off the read loop; verdicts are asynchronous
	go s.forwardBatch(ctx, sc, standardized)
}

func (s *Server) forwardBatch(ctx context.Context, sc *streamConn, payload StandardizedPayload) {
	req := bridge.Request{
		UserID: payload.UserID,
		Data:   bridge.Payload{Swiping: payload.Swiping, Typing: payload.Typing},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.forwardTimeout)
	defer cancel()

	start := time.Now()
	verdict, err := s.bridge.Forward(callCtx, req)
	s.metrics.ForwardLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.OracleErrors.Inc()
		log.Error().Err(err).Str("user_id", payload.UserID).Msg("oracle forward failed")
		return
	}
	s.metrics.OracleForwards.Inc()

	predictions := extractPredictions(verdict)
	if predictions == nil {
		s.metrics.OracleErrors.Inc()
		log.Error().Str("user_id", payload.UserID).Msg("oracle verdict carries no predictions")
		return
	}

	if s.auditor != nil {
		if err := s.auditor.Publish(context.Background(), payload.UserID, predictions); err != nil {
			log.Warn().Err(err).Msg("verdict audit publish failed")
		}
	}

	// the prediction-result payload is a JSON-encoded string
	encoded, err := json.Marshal(string(predictions))
	if err != nil {
		log.Error().Err(err).Msg("encode verdict failed")
		return
	}
	if err := sc.send(ctx, envelope{Event: eventPredictionResult, Payload: encoded}); err != nil {
		log.Warn().Err(err).Str("user_id", payload.UserID).Msg("verdict delivery failed")
	}
}

// extractPredictions digs the predictions object out of the oracle result.
func extractPredictions(result json.RawMessage) json.RawMessage {
	var body struct {
		Predictions json.RawMessage `json:"predictions"`
	}
	if err := json.Unmarshal(result, &body); err != nil || len(body.Predictions) == 0 {
		return nil
	}
	return body.Predictions
}

func (s *Server) streamOpened() {
	s.streamMu.Lock()
	s.activeStreams++
	s.streamMu.Unlock()
	s.metrics.ActiveConnections.Inc()
}

// streamClosed drops the bridge's user context once no client stream remains,
// so a lost oracle connection is not reconnected for nobody.
func (s *Server) streamClosed() {
	s.streamMu.Lock()
	s.activeStreams--
	last := s.activeStreams == 0
	s.streamMu.Unlock()
	s.metrics.ActiveConnections.Dec()
	if last {
		s.bridge.ClearUserContext()
	}
}

func (s *Server) sendError(ctx context.Context, sc *streamConn, message, code string) {
	payload, err := json.Marshal(map[string]string{"error": message, "code": code})
	if err != nil {
		return
	}
	if err := sc.send(ctx, envelope{Event: eventError, Payload: payload}); err != nil {
		log.Warn().Err(err).Msg("error event delivery failed")
	}
}
