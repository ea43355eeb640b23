package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeshield/telemetry/internal/bridge"
)

// newFakeOracle runs a websocket oracle that answers every request with the
// given reply body and returns its ws:// URL.
func newFakeOracle(t *testing.T, replyBody string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(replyBody)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestServer(t *testing.T, oracleURL, trainURL string) (*Server, *httptest.Server) {
	t.Helper()
	b := bridge.New(oracleURL, time.Second)
	t.Cleanup(b.Close)
	s := NewServer(b, trainURL, 2*time.Second, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

func postTraining(t *testing.T, srv *httptest.Server, body string) (*http.Response, trainingErrorBody) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/data/getData", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var errBody trainingErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	return resp, errBody
}

func TestTrainingRejectsInvalidJSON(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	resp, body := postTraining(t, srv, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeNoData, body.Code)
}

func TestTrainingRejectsMissingUserID(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	resp, body := postTraining(t, srv, `{"data2":{"holdTimes":[80,85,90,95,100]}}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeMissingUserID, body.Code)
	assert.Equal(t, "Unauthorized: No user ID found.", body.Error)
}

func TestTrainingRejectsEmptyBatch(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	resp, body := postTraining(t, srv, `{"userId":"u1","data2":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidationFailed, body.Code)
	require.NotEmpty(t, body.Details)
	assert.Equal(t, "no valid behavioral data", body.Details[0])
}

func TestTrainingForwardsToTrainingService(t *testing.T) {
	var got bridge.Request
	train := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/train_model", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Model trained successfully"}`))
	}))
	defer train.Close()

	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", train.URL)

	resp, err := http.Post(srv.URL+"/api/data/getData", "application/json", bytes.NewReader([]byte(
		`{"userId":"u1","data2":{"holdTimesNew":[80,85,90,95,100],"swipeSpeeds":[1,2,3]}}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Message  string          `json:"message"`
		Response json.RawMessage `json:"response"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Data sent successfully to prediction server.", body.Message)
	assert.Contains(t, string(body.Response), "Model trained successfully")

	// the relayed request carries canonical names only
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, []float64{80, 85, 90, 95, 100}, got.Data.Typing[FieldHoldTimes])
	assert.Equal(t, []float64{1, 2, 3}, got.Data.Swiping[FieldSwipeSpeeds])
}

func TestTrainingServiceUnreachable(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	resp, body := postTraining(t, srv, `{"userId":"u1","data2":{"holdTimes":[80,85,90,95,100]}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, CodeServerUnavailable, body.Code)
}

func TestTrainingServiceFailurePropagates(t *testing.T) {
	train := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model exploded"}`, http.StatusInternalServerError)
	}))
	defer train.Close()

	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", train.URL)

	resp, body := postTraining(t, srv, `{"userId":"u1","data2":{"holdTimes":[80,85,90,95,100]}}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, CodeServerError, body.Code)
}

func TestHealthReportsOracleState(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "CLOSED", body["oracle"])
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var env envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func TestStreamDeliversVerdict(t *testing.T) {
	oracleURL := newFakeOracle(t,
		`{"result":{"predictions":{"swiping":{"prediction_result":{"risk_category":"medium_risk"}}}}}`)
	_, srv := newTestServer(t, oracleURL, "http://127.0.0.1:1")

	conn := dialStream(t, srv)
	batch := map[string]any{
		"user_id": "u1",
		"data": map[string]any{
			"swiping": map[string]any{
				"swipeSpeeds":        []float64{1, 2, 3},
				"swipeDirections":    []float64{45, 90, 135},
				"swipeAccelerations": []float64{10, 20, 30},
			},
		},
	}
	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]any{
		"event": "send-features", "payload": batch,
	}))

	env := readEvent(t, conn)
	assert.Equal(t, "prediction-result", env.Event)

	// the payload is a JSON-encoded string holding the predictions object
	var inner string
	require.NoError(t, json.Unmarshal(env.Payload, &inner))
	assert.Contains(t, inner, "medium_risk")
}

func TestStreamRejectsMissingUserID(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	conn := dialStream(t, srv)
	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]any{
		"event":   "send-features",
		"payload": map[string]any{"data": map[string]any{}},
	}))

	env := readEvent(t, conn)
	assert.Equal(t, "error", env.Event)
	var body map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.Equal(t, CodeMissingUserID, body["code"])
}

func TestStreamSurvivesMalformedBatch(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	conn := dialStream(t, srv)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText,
		[]byte(`{"event":"send-features","payload":"not an object"}`)))

	env := readEvent(t, conn)
	assert.Equal(t, "error", env.Event)

	// the stream is still usable after the bad message
	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]any{
		"event":   "send-features",
		"payload": map[string]any{"user_id": "", "data": map[string]any{}},
	}))
	env = readEvent(t, conn)
	assert.Equal(t, "error", env.Event)
}

func TestStreamSurvivesGarbledFrame(t *testing.T) {
	_, srv := newTestServer(t, "ws://127.0.0.1:1/predict", "http://127.0.0.1:1")

	conn := dialStream(t, srv)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`}garbage{`)))

	// the stream must still answer after the unparseable frame
	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]any{
		"event":   "send-features",
		"payload": map[string]any{"data": map[string]any{}},
	}))

	env := readEvent(t, conn)
	assert.Equal(t, "error", env.Event)
	var body map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &body))
	assert.Equal(t, CodeMissingUserID, body["code"])
}

func TestLastStreamCloseDisarmsOracleReconnect(t *testing.T) {
	var mu sync.Mutex
	accepts := 0
	proceed := make(chan struct{})

	oracleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		accepts++
		mu.Unlock()
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText,
			[]byte(`{"result":{"predictions":{"swiping":{"prediction_result":{"risk_category":"low_risk"}}}}}`))
		<-proceed
		_ = conn.Close(websocket.StatusInternalError, "simulated crash")
	}))
	defer oracleSrv.Close()
	oracleURL := "ws" + strings.TrimPrefix(oracleSrv.URL, "http")

	b := bridge.New(oracleURL, 50*time.Millisecond)
	t.Cleanup(b.Close)
	s := NewServer(b, "http://127.0.0.1:1", 2*time.Second, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv)
	require.NoError(t, wsjson.Write(context.Background(), conn, map[string]any{
		"event": "send-features",
		"payload": map[string]any{
			"user_id": "u1",
			"data": map[string]any{
				"swiping": map[string]any{
					"swipeSpeeds":        []float64{1, 2, 3},
					"swipeDirections":    []float64{45, 90, 135},
					"swipeAccelerations": []float64{10, 20, 30},
				},
			},
		},
	}))
	env := readEvent(t, conn)
	require.Equal(t, "prediction-result", env.Event)

	// last client stream gone: the bridge forgets the user context
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "test done"))
	require.Eventually(t, func() bool {
		s.streamMu.Lock()
		defer s.streamMu.Unlock()
		return s.activeStreams == 0
	}, 2*time.Second, 5*time.Millisecond)

	// oracle drops abnormally afterwards: no reconnect with nobody served
	close(proceed)
	require.Eventually(t, func() bool {
		return b.State() == bridge.StateClosed
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, bridge.StateClosed, b.State())

	mu.Lock()
	assert.Equal(t, 1, accepts, "the lost oracle connection was not redialed")
	mu.Unlock()
}

func TestExtractPredictions(t *testing.T) {
	got := extractPredictions(json.RawMessage(`{"predictions":{"typing":{}},"other":1}`))
	assert.JSONEq(t, `{"typing":{}}`, string(got))

	assert.Nil(t, extractPredictions(json.RawMessage(`{"status":"ok"}`)))
	assert.Nil(t, extractPredictions(json.RawMessage(`garbage`)))
}
