package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/dyadchat/internal/catalog"
	"github.com/antoniostano/dyadchat/internal/config"
	"github.com/antoniostano/dyadchat/internal/deck"
	"github.com/antoniostano/dyadchat/internal/ledger"
	"github.com/antoniostano/dyadchat/internal/observability"
	"github.com/antoniostano/dyadchat/internal/session"
	"github.com/antoniostano/dyadchat/internal/transcript"
)

type testServer struct {
	ts       *httptest.Server
	manager  *session.Manager
	deck     *deck.Scheduler
	store    *transcript.InMemoryStore
	seenPIDs *ledger.Set
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithRecorder(t, nil)
}

// newTestServerWithRecorder uses rec for completed sessions, or an
// in-memory transcript store when rec is nil.
func newTestServerWithRecorder(t *testing.T, rec session.Recorder) *testServer {
	t.Helper()
	dir := t.TempDir()
	items := catalog.New([]catalog.Item{{
		ID:            "count-1",
		QuestionType:  "counting",
		User1Image:    "a.png",
		User2Image:    "b.png",
		User1Question: "How many chairs?",
		Options:       []string{"1", "2", "3"},
	}})
	sched, err := deck.Open(filepath.Join(dir, "deck_state_counting.json"), items)
	if err != nil {
		t.Fatalf("deck.Open() error = %v", err)
	}
	seen, err := ledger.Open(filepath.Join(dir, "seen_pids.json"), ledger.FormatFlags)
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	completed, err := ledger.Open(filepath.Join(dir, "completed_items.json"), ledger.FormatList)
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	store := transcript.NewInMemoryStore()
	if rec == nil {
		rec = transcript.NewRecorder(store, nil)
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))

	cfg := config.Config{QuestionType: "counting", MaxTurns: 1}
	manager := session.NewManager(session.Config{
		MaxTurns:             cfg.MaxTurns,
		QuestionType:         cfg.QuestionType,
		Plan:                 deck.Plan{QuestionType: "counting", PerCategory: map[string]int{"counting": 1}},
		RequireDistinct:      true,
		BlockRepeat:          true,
		StopWhenDeckComplete: true,
		PairingTimeout:       time.Minute,
		DisconnectGrace:      50 * time.Millisecond,
		NextQuestionDelay:    10 * time.Millisecond,
		FinalAnswerGrace:     50 * time.Millisecond,
		BlockedCloseDelay:    10 * time.Millisecond,
	}, session.Deps{
		Deck:      sched,
		Seen:      seen,
		Completed: completed,
		Recorder:  rec,
		Metrics:   metrics,
	})
	srv := New(cfg, manager, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		manager.Shutdown()
		ts.Close()
	})
	return &testServer{ts: ts, manager: manager, deck: sched, store: store, seenPIDs: seen}
}

func (s *testServer) dial(t *testing.T, pid string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws?pid=" + pid
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", pid, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, payload string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("WriteMessage(%s) error = %v", payload, err)
	}
}

// readUntil reads frames until one of type want arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want string) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]any
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: ReadJSON() error = %v", want, err)
		}
		if msg["type"] == want {
			return msg
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestHealthConfigAndReady(t *testing.T) {
	s := newTestServer(t)

	res, err := http.Get(s.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	res, err = http.Get(s.ts.URL + "/api/config")
	if err != nil {
		t.Fatalf("GET /api/config error = %v", err)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode /api/config: %v", err)
	}
	res.Body.Close()
	if payload["question_type"] != "counting" || payload["max_turns"] != float64(1) {
		t.Fatalf("/api/config = %+v", payload)
	}

	res, err = http.Get(s.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /readyz status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	s.manager.Shutdown()
	res, err = http.Get(s.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz after shutdown status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	s := newTestServer(t)
	u := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws?pid=A"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(u, header)
	if err == nil {
		t.Fatalf("Dial() with foreign origin succeeded, want handshake failure")
	}
	if res != nil && res.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestWebSocketInvalidFrameGetsErrorEvent(t *testing.T) {
	s := newTestServer(t)
	ws := s.dial(t, "A")
	send(t, ws, `{"type":"wat"}`)
	msg := readUntil(t, ws, "error_event")
	if msg["code"] != "invalid_client_message" {
		t.Fatalf("error_event = %+v", msg)
	}
	send(t, ws, `{"type":"ping"}`)
	readUntil(t, ws, "pong")
}

// playToSurveys pairs A and B and plays the single question up to the
// survey prompt.
func playToSurveys(t *testing.T, s *testServer) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	a := s.dial(t, "A")
	waitFor(t, func() bool { return s.manager.QueueLen() == 1 })
	b := s.dial(t, "B")

	if got := readUntil(t, a, "paired:instructions"); got["role"] != "answerer" {
		t.Fatalf("A instructions = %+v, want answerer", got)
	}
	if got := readUntil(t, b, "paired:instructions"); got["role"] != "helper" {
		t.Fatalf("B instructions = %+v, want helper", got)
	}

	send(t, a, `{"type":"instructions:ready"}`)
	send(t, b, `{"type":"instructions:ready"}`)
	readUntil(t, a, "paired")
	readUntil(t, a, "turn:you")
	readUntil(t, b, "paired")
	readUntil(t, b, "turn:wait")

	send(t, a, `{"type":"chat:message","text":"what do you see?"}`)
	if got := readUntil(t, b, "chat:message"); got["text"] != "what do you see?" {
		t.Fatalf("relayed chat = %+v", got)
	}
	readUntil(t, b, "turn:you")
	send(t, b, `{"type":"chat:message","text":"two chairs"}`)
	readUntil(t, a, "chat:closed")
	readUntil(t, b, "chat:closed")

	send(t, a, `{"type":"answer:submit","choice":1,"rt":1200}`)
	readUntil(t, a, "all_questions_complete")
	readUntil(t, b, "all_questions_complete")
	return a, b
}

func TestWebSocketFullSession(t *testing.T) {
	s := newTestServer(t)
	a, b := playToSurveys(t, s)

	send(t, a, `{"type":"survey:submit","survey":{"clear":5},"timingData":{"chatBeginTime":1000,"firstMessageTime":2000}}`)
	if got := readUntil(t, a, "survey:ack"); got["success"] != true {
		t.Fatalf("A survey:ack = %+v", got)
	}
	send(t, b, `{"type":"survey:submit","survey":{"clear":4}}`)
	if got := readUntil(t, b, "survey:ack"); got["success"] != true {
		t.Fatalf("B survey:ack = %+v", got)
	}

	records, err := s.store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 || records[0].ItemID != "count-1" {
		t.Fatalf("transcripts = %+v", records)
	}
	if got := records[0].Answers["answerer"].ChoiceText; got != "2" {
		t.Fatalf("answer choice text = %q, want %q", got, "2")
	}
	if !s.deck.IsMarked("count-1") {
		t.Fatalf("item not marked completed after persistence")
	}
	if !s.seenPIDs.Has("A") || !s.seenPIDs.Has("B") {
		t.Fatalf("identities not recorded as seen")
	}

	again := s.dial(t, "A")
	msg := readUntil(t, again, "blocked:deck_complete")
	if msg["type"] != "blocked:deck_complete" {
		t.Fatalf("reconnect after completion = %+v", msg)
	}
}

type panickingRecorder struct{}

func (panickingRecorder) RecordSession(context.Context, *session.Session) error {
	panic("transcript store corrupted")
}

func TestHandlerPanicFaultsManager(t *testing.T) {
	s := newTestServerWithRecorder(t, panickingRecorder{})
	a, b := playToSurveys(t, s)

	send(t, a, `{"type":"survey:submit","survey":{"clear":5}}`)
	readUntil(t, a, "survey:ack")
	send(t, b, `{"type":"survey:submit","survey":{"clear":4}}`)
	readUntil(t, a, "connection_lost")

	select {
	case err := <-s.manager.Faults():
		if !strings.Contains(err.Error(), "transcript store corrupted") {
			t.Fatalf("fault = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("handler panic not reported on Faults()")
	}

	res, err := http.Get(s.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /healthz after fault status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}
