package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/dyadchat/internal/deck"
	"github.com/antoniostano/dyadchat/internal/matchmaking"
	"github.com/antoniostano/dyadchat/internal/observability"
	"github.com/antoniostano/dyadchat/internal/protocol"
)

// Conn is one live client connection. Send must not block.
type Conn interface {
	ID() string
	Send(v any) bool
	Close()
}

// Deck supplies question sequences and records completed items.
type Deck interface {
	BuildSequence(p deck.Plan) []deck.Entry
	MarkCompleted(id string) error
	Exhausted() bool
	ResetCycle() error
}

// Ledger is a persisted grow-only set.
type Ledger interface {
	Has(id string) bool
	Add(id string) (bool, error)
}

// Recorder persists a completed session.
type Recorder interface {
	RecordSession(ctx context.Context, s *Session) error
}

type Config struct {
	MaxTurns             int
	QuestionType         string
	Plan                 deck.Plan
	RequireDistinct      bool
	BlockRepeat          bool
	StopWhenDeckComplete bool
	PairingTimeout       time.Duration
	DisconnectGrace      time.Duration
	NextQuestionDelay    time.Duration
	FinalAnswerGrace     time.Duration
	BlockedCloseDelay    time.Duration
	StartupGrace         time.Duration
	PersistTimeout       time.Duration
}

type Deps struct {
	Deck      Deck
	Seen      Ledger
	Completed Ledger
	Recorder  Recorder
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns the waiting queue and the session table. One mutex
// serializes every transition across connections, timers and sessions.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	deps      Deps
	logger    *slog.Logger
	startedAt time.Time
	closed    bool
	faults    chan error

	queue      *matchmaking.Queue
	sessions   map[string]*Session
	byIdentity map[string]string
	conns      map[string]Conn
	handleOf   map[string]string
	identityOf map[string]string
	// finishing maps an external identity to the session whose transcript
	// is being written.
	finishing map[string]string

	pairingTimers map[string]*time.Timer
	graceTimers   map[string]*time.Timer
	sessionTimers map[string]*time.Timer
}

func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		cfg:           cfg,
		deps:          deps,
		logger:        deps.Logger,
		startedAt:     deps.Now(),
		faults:        make(chan error, 1),
		queue:         matchmaking.NewQueue(cfg.RequireDistinct),
		sessions:      make(map[string]*Session),
		byIdentity:    make(map[string]string),
		conns:         make(map[string]Conn),
		handleOf:      make(map[string]string),
		identityOf:    make(map[string]string),
		finishing:     make(map[string]string),
		pairingTimers: make(map[string]*time.Timer),
		graceTimers:   make(map[string]*time.Timer),
		sessionTimers: make(map[string]*time.Timer),
	}
}

// Connect admits a new connection for identity: a resume when identity owns
// a live session, otherwise a fresh participant for the queue.
func (m *Manager) Connect(conn Conn, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.deps.Now()
	handle := conn.ID()
	log := m.logger.With("identity", identity, "conn_id", handle)

	if m.closed || now.Sub(m.startedAt) < m.cfg.StartupGrace {
		log.Info("rejecting connection while not serving")
		conn.Send(protocol.NewSignal(protocol.TypeConnectionLost))
		conn.Close()
		return
	}

	if s := m.sessionFor(identity); s != nil {
		m.resumeLocked(s, conn, identity)
		return
	}

	if m.cfg.StopWhenDeckComplete && m.deps.Deck.Exhausted() {
		log.Info("deck complete, rejecting participant")
		m.rejectLocked(conn, protocol.TypeBlockedDeckComplete)
		return
	}
	_, finishing := m.finishing[identity]
	if m.cfg.BlockRepeat && (finishing || m.deps.Seen.Has(identity)) {
		log.Info("identity already took part, rejecting")
		m.rejectLocked(conn, protocol.TypeBlockedRepeatPID)
		return
	}

	if m.cfg.RequireDistinct {
		if old, ok := m.queue.Replace(identity, handle); ok {
			log.Info("queued identity reconnected, replacing handle", "old_conn_id", old)
			m.dropHandleLocked(old, true)
			m.stopTimer(m.pairingTimers, old)
			m.bindLocked(conn, identity)
			m.startPairingTimerLocked(handle)
			return
		}
	}

	m.bindLocked(conn, identity)
	m.queue.Enqueue(matchmaking.Entry{Identity: identity, Handle: handle, EnqueuedAt: now})
	m.startPairingTimerLocked(handle)
	m.deps.Metrics.SessionEvent("enqueued")
	log.Info("participant waiting for partner", "queue", m.queue.Len())
	m.matchLocked()
}

// Disconnect handles a closed connection. Stale handles are ignored. A
// session participant gets a grace window before the partner is told.
func (m *Manager) Disconnect(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := conn.ID()
	identity, ok := m.identityOf[handle]
	if !ok {
		return
	}
	delete(m.identityOf, handle)
	delete(m.conns, handle)
	if m.closed {
		return
	}

	if _, ok := m.queue.Remove(handle); ok {
		if m.handleOf[identity] == handle {
			delete(m.handleOf, identity)
		}
		m.stopTimer(m.pairingTimers, handle)
		m.deps.Metrics.SetQueueDepth(m.queue.Len())
		m.logger.Info("waiting participant left", "identity", identity)
		m.matchLocked()
		return
	}
	if m.handleOf[identity] != handle {
		return
	}
	delete(m.handleOf, identity)

	s := m.sessionFor(identity)
	if s == nil {
		return
	}
	m.logger.Info("participant disconnected, grace started", "session_id", s.ID, "identity", identity, "grace", m.cfg.DisconnectGrace)
	m.stopTimer(m.graceTimers, identity)
	var t *time.Timer
	t = time.AfterFunc(m.cfg.DisconnectGrace, func() { m.graceExpired(identity, t) })
	m.graceTimers[identity] = t
}

// Handle applies one parsed client message from conn.
func (m *Manager) Handle(conn Conn, msg any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := conn.ID()
	identity, ok := m.identityOf[handle]
	if !ok || m.handleOf[identity] != handle {
		m.logger.Warn("message from stale connection ignored", "conn_id", handle)
		return
	}
	if sig, ok := msg.(protocol.Signal); ok && sig.Type == protocol.TypePing {
		conn.Send(protocol.NewSignal(protocol.TypePong))
		return
	}

	s := m.sessionFor(identity)
	if s == nil {
		m.logger.Warn("message without live session ignored", "identity", identity)
		if _, ok := msg.(protocol.SurveySubmit); ok {
			conn.Send(protocol.SurveyAck{Type: protocol.TypeSurveyAck, Success: false, Message: "no active session"})
		}
		return
	}
	log := m.logger.With("session_id", s.ID, "identity", identity)
	now := m.deps.Now()

	var (
		out Outcome
		err error
	)
	switch v := msg.(type) {
	case protocol.Signal:
		switch v.Type {
		case protocol.TypeInstructionsReady:
			out, err = s.MarkReady(identity)
		case protocol.TypeEarlyTermination:
			out, err = s.EarlyTerminate(identity, now)
		case protocol.TypeTypingStart, protocol.TypeTypingStop:
			out = s.Typing(identity, v.Type)
		}
	case protocol.RequestPairedData:
		role, _ := s.Role(identity)
		if v.ExpectedRole != "" && v.ExpectedRole != string(role) {
			log.Warn("client role disagrees with pairing record", "client_role", v.ExpectedRole, "role", role)
		}
		out, err = s.PairedData(identity)
	case protocol.ChatMessage:
		var accepted bool
		out, accepted, err = s.SendMessage(identity, v.Text, now)
		if err == nil && !accepted {
			m.deps.Metrics.SessionEvent("message_rejected")
		}
	case protocol.AnswerSubmit:
		out, err = s.SubmitAnswer(identity, v.Choice, v.RTMs, now)
	case protocol.SurveySubmit:
		m.surveyLocked(conn, s, identity, v, now)
		return
	}
	if err != nil {
		log.Warn("client event rejected", "error", err)
		conn.Send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      errorCode(err),
			Source:    "session",
			Detail:    err.Error(),
		})
		return
	}
	m.applyLocked(s, out)
}

// surveyLocked records a survey and always answers with survey:ack. The
// ack reports failure when the completion gate could not persist.
func (m *Manager) surveyLocked(conn Conn, s *Session, identity string, v protocol.SurveySubmit, now time.Time) {
	ack := protocol.SurveyAck{Type: protocol.TypeSurveyAck, Success: true, Message: "Survey data received"}
	out, err := s.SubmitSurvey(identity, Survey{Responses: v.Survey, AnswerData: v.AnswerData, Timing: v.TimingData}, now)
	if err != nil {
		m.logger.Warn("survey rejected", "session_id", s.ID, "identity", identity, "error", err)
		ack.Success, ack.Message = false, err.Error()
		conn.Send(ack)
		return
	}
	complete := out.Complete
	out.Complete = false
	m.applyLocked(s, out)
	if complete && !m.completeLocked(s) {
		ack.Success, ack.Message = false, "Survey received but session could not be saved"
	}
	conn.Send(ack)
}

// Shutdown tells every live connection the server is going away, then
// closes them. Later connections are refused.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, timers := range []map[string]*time.Timer{m.pairingTimers, m.graceTimers, m.sessionTimers} {
		for k, t := range timers {
			t.Stop()
			delete(timers, k)
		}
	}
	for _, c := range m.conns {
		c.Send(protocol.NewSignal(protocol.TypeConnectionLost))
		c.Close()
	}
	m.logger.Info("session manager shut down", "connections", len(m.conns), "sessions", len(m.sessions))
}

// Fault shuts the manager down after an unrecoverable error and reports it
// on Faults. Only the first fault is reported.
func (m *Manager) Fault(v any) {
	err, ok := v.(error)
	if !ok {
		err = fmt.Errorf("%v", v)
	}
	m.logger.Error("unrecoverable fault, shutting down", "error", err)
	m.Shutdown()
	select {
	case m.faults <- err:
	default:
	}
}

// Faults delivers the first unrecoverable fault. The process is expected
// to exit once it fires.
func (m *Manager) Faults() <-chan error { return m.faults }

// Closed reports whether Shutdown has run.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// guard turns a panic in a timer callback into a Fault. It must be
// deferred before m.mu is taken.
func (m *Manager) guard(where string) {
	if rec := recover(); rec != nil {
		m.logger.Error("panic in "+where, "panic", rec, "stack", string(debug.Stack()))
		m.Fault(fmt.Errorf("%s: %v", where, rec))
	}
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Serving reports whether new connections are admitted.
func (m *Manager) Serving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.deps.Now().Sub(m.startedAt) >= m.cfg.StartupGrace
}

func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Snapshot returns a copy of identity's session state, for diagnostics.
func (m *Manager) Snapshot(identity string) (State, Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionFor(identity)
	if s == nil {
		return "", "", ErrNotFound
	}
	role, _ := s.Role(identity)
	return s.State(), role, nil
}

// matchLocked pairs waiters until fewer than two remain. A same-identity
// head pair is requeued and matching waits for the next queue event.
func (m *Manager) matchLocked() {
	for {
		first, second, res := m.queue.Next()
		switch res {
		case matchmaking.NotEnough:
			m.deps.Metrics.SetQueueDepth(m.queue.Len())
			return
		case matchmaking.SameIdentity:
			m.logger.Warn("self-pairing prevented, requeued", "queue", m.queue.Len())
			m.deps.Metrics.SetQueueDepth(m.queue.Len())
			return
		}
		m.stopTimer(m.pairingTimers, first.Handle)
		m.stopTimer(m.pairingTimers, second.Handle)
		m.createSessionLocked(first, second)
	}
}

func (m *Manager) createSessionLocked(first, second matchmaking.Entry) {
	now := m.deps.Now()
	a := Participant{Identity: first.Identity, ExternalID: first.Identity, QueuedAt: first.EnqueuedAt}
	b := Participant{Identity: second.Identity, ExternalID: second.Identity, QueuedAt: second.EnqueuedAt}
	if a.Identity == b.Identity {
		// Distinct pairing is off: the second seat gets its own routing key.
		b.Identity = second.Identity + "#2"
		m.handleOf[a.Identity] = first.Handle
		m.identityOf[second.Handle] = b.Identity
		m.handleOf[b.Identity] = second.Handle
	}

	m.restartCycleLocked()
	seq := m.deps.Deck.BuildSequence(m.cfg.Plan)
	s := New(uuid.NewString(), a, b, seq, m.cfg.MaxTurns, m.cfg.QuestionType, now, m.logger)
	log := m.logger.With("session_id", s.ID)

	if s.State() == StateBlocked {
		log.Warn("no questions available, blocking pair", "answerer", a.Identity, "helper", b.Identity)
		m.deps.Metrics.SessionEvent("blocked")
		for _, id := range []string{a.Identity, b.Identity} {
			if c := m.connFor(id); c != nil {
				m.rejectLocked(c, protocol.TypeBlockedDeckComplete)
			}
		}
		return
	}

	m.sessions[s.ID] = s
	m.byIdentity[a.Identity] = s.ID
	m.byIdentity[b.Identity] = s.ID
	m.deps.Metrics.SessionEvent("paired")
	m.deps.Metrics.SetActiveSessions(len(m.sessions))
	log.Info("pair formed", "answerer", a.Identity, "helper", b.Identity, "questions", len(seq))
	m.deliverLocked(s.Instructions().Out)
}

func (m *Manager) resumeLocked(s *Session, conn Conn, identity string) {
	handle := conn.ID()
	if old, ok := m.handleOf[identity]; ok && old != handle {
		m.dropHandleLocked(old, true)
	}
	m.bindLocked(conn, identity)
	if m.stopTimer(m.graceTimers, identity) {
		m.logger.Info("participant reconnected within grace", "session_id", s.ID, "identity", identity)
	}
	role, _ := s.Role(identity)
	m.logger.Info("session resumed", "session_id", s.ID, "identity", identity, "role", role, "state", s.State())
	m.deps.Metrics.SessionEvent("resumed")
	m.deliverLocked(s.Resume(identity).Out)
}

func (m *Manager) graceExpired(identity string, t *time.Timer) {
	defer m.guard("disconnect grace timer")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graceTimers[identity] != t {
		return
	}
	delete(m.graceTimers, identity)
	if _, back := m.handleOf[identity]; back {
		return
	}
	s := m.sessionFor(identity)
	if s == nil {
		return
	}
	log := m.logger.With("session_id", s.ID, "identity", identity)
	if s.HasSurvey(identity) {
		log.Info("participant left after survey, session kept for partner")
		return
	}
	log.Info("grace expired, partner notified")
	m.deliverLocked(s.PartnerGone(identity).Out)
	s.Abandon()
	m.deps.Metrics.SessionEvent("abandoned")
	m.removeSessionLocked(s)
}

func (m *Manager) applyLocked(s *Session, out Outcome) {
	m.deliverLocked(out.Out)
	if out.Advance {
		m.scheduleLocked(s, m.cfg.NextQuestionDelay, func() Outcome { return s.Advance() })
	}
	if out.AwaitFinal {
		m.scheduleLocked(s, m.cfg.FinalAnswerGrace, func() Outcome { return s.ForceSettle() })
	}
	if out.Complete {
		m.completeLocked(s)
	}
}

// scheduleLocked runs step against s after d unless s is gone by then.
func (m *Manager) scheduleLocked(s *Session, d time.Duration, step func() Outcome) {
	m.stopTimer(m.sessionTimers, s.ID)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer m.guard("session step timer")
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.sessionTimers[s.ID] != t || m.sessions[s.ID] != s {
			return
		}
		delete(m.sessionTimers, s.ID)
		m.applyLocked(s, step())
	})
	m.sessionTimers[s.ID] = t
}

// completeLocked runs the completion gate: persist, then mark items and
// identities. A failed write marks nothing. The session is closed and
// removed before the write, which runs with m.mu released. It reports
// whether persistence succeeded.
func (m *Manager) completeLocked(s *Session) bool {
	if m.sessions[s.ID] != s {
		return true
	}
	log := m.logger.With("session_id", s.ID)
	s.Close()
	m.removeSessionLocked(s)
	seats := s.Participants()
	for _, p := range seats {
		m.finishing[p.ExternalID] = s.ID
	}
	defer func() {
		for _, p := range seats {
			if m.finishing[p.ExternalID] == s.ID {
				delete(m.finishing, p.ExternalID)
			}
		}
	}()

	err := m.unlocked(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
		defer cancel()
		return m.deps.Recorder.RecordSession(ctx, s)
	})
	if err != nil {
		log.Error("transcript write failed, items left unmarked", "error", err)
		m.deps.Metrics.ObservePersistence("error")
		return false
	}
	m.deps.Metrics.ObservePersistence("ok")

	results := s.PersistableResults()
	for _, r := range results {
		id := r.Entry.Item.ID
		if err := m.deps.Deck.MarkCompleted(id); err != nil {
			log.Error("deck mark failed", "item_id", id, "error", err)
		}
		if _, err := m.deps.Completed.Add(id); err != nil {
			log.Error("completed ledger write failed", "item_id", id, "error", err)
		}
	}
	for _, p := range seats {
		if _, err := m.deps.Seen.Add(p.ExternalID); err != nil {
			log.Error("seen ledger write failed", "identity", p.ExternalID, "error", err)
		}
	}
	m.restartCycleLocked()
	log.Info("session complete", "records", len(results))
	m.deps.Metrics.SessionEvent("completed")
	m.deps.Metrics.ObserveSessionDuration(m.deps.Now().Sub(s.PairedAt))
	return true
}

// unlocked runs fn with m.mu released. The lock is held again on return,
// also when fn panics.
func (m *Manager) unlocked(fn func() error) error {
	m.mu.Unlock()
	defer m.mu.Lock()
	return fn()
}

// restartCycleLocked starts a new deck cycle once every item is marked,
// unless the deployment stops at deck completion.
func (m *Manager) restartCycleLocked() {
	if m.cfg.StopWhenDeckComplete || !m.deps.Deck.Exhausted() {
		return
	}
	if err := m.deps.Deck.ResetCycle(); err != nil {
		m.logger.Error("deck reset failed", "error", err)
		return
	}
	m.logger.Info("all items completed, new deck cycle started")
	m.deps.Metrics.SessionEvent("deck_cycle_reset")
}

func (m *Manager) removeSessionLocked(s *Session) {
	m.stopTimer(m.sessionTimers, s.ID)
	for _, p := range s.Participants() {
		if m.byIdentity[p.Identity] == s.ID {
			delete(m.byIdentity, p.Identity)
		}
		m.stopTimer(m.graceTimers, p.Identity)
	}
	delete(m.sessions, s.ID)
	m.deps.Metrics.SetActiveSessions(len(m.sessions))
}

// rejectLocked sends event and closes conn after the blocked delay. The
// handle is forgotten at once so the close is not treated as a departure.
func (m *Manager) rejectLocked(conn Conn, event protocol.MessageType) {
	m.dropHandleLocked(conn.ID(), false)
	conn.Send(protocol.NewSignal(event))
	time.AfterFunc(m.cfg.BlockedCloseDelay, conn.Close)
}

func (m *Manager) startPairingTimerLocked(handle string) {
	if m.cfg.PairingTimeout <= 0 {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(m.cfg.PairingTimeout, func() {
		defer m.guard("pairing timer")
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.pairingTimers[handle] != t {
			return
		}
		delete(m.pairingTimers, handle)
		e, ok := m.queue.Remove(handle)
		if !ok {
			return
		}
		m.logger.Info("pairing timed out", "identity", e.Identity, "waited", m.deps.Now().Sub(e.EnqueuedAt))
		m.deps.Metrics.SessionEvent("pairing_timeout")
		m.deps.Metrics.SetQueueDepth(m.queue.Len())
		if c := m.conns[handle]; c != nil {
			m.dropHandleLocked(handle, false)
			c.Send(protocol.NewSignal(protocol.TypeWaitingNoPartner))
			c.Close()
		}
	})
	m.pairingTimers[handle] = t
}

func (m *Manager) bindLocked(conn Conn, identity string) {
	m.conns[conn.ID()] = conn
	m.identityOf[conn.ID()] = identity
	m.handleOf[identity] = conn.ID()
}

// dropHandleLocked forgets handle. With closeConn set the connection is
// also closed.
func (m *Manager) dropHandleLocked(handle string, closeConn bool) {
	c := m.conns[handle]
	if identity, ok := m.identityOf[handle]; ok && m.handleOf[identity] == handle {
		delete(m.handleOf, identity)
	}
	delete(m.identityOf, handle)
	delete(m.conns, handle)
	if closeConn && c != nil {
		c.Close()
	}
}

func (m *Manager) deliverLocked(out []Delivery) {
	for _, d := range out {
		c := m.connFor(d.To)
		if c == nil {
			continue
		}
		c.Send(d.Event)
	}
}

func (m *Manager) connFor(identity string) Conn {
	handle, ok := m.handleOf[identity]
	if !ok {
		return nil
	}
	return m.conns[handle]
}

func (m *Manager) sessionFor(identity string) *Session {
	id, ok := m.byIdentity[identity]
	if !ok {
		return nil
	}
	s := m.sessions[id]
	if s == nil || !s.State().Live() {
		return nil
	}
	return s
}

func (m *Manager) stopTimer(timers map[string]*time.Timer, key string) bool {
	t, ok := timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(timers, key)
	return true
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrNotAnswerer):
		return "not_answerer"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrDuplicateAnswer):
		return "duplicate_answer"
	case errors.Is(err, ErrInvalidChoice):
		return "invalid_choice"
	case errors.Is(err, ErrDuplicateSurvey):
		return "duplicate_survey"
	default:
		return "invalid_event"
	}
}
