package session

import (
	"log/slog"
	"time"

	"github.com/antoniostano/dyadchat/internal/catalog"
	"github.com/antoniostano/dyadchat/internal/deck"
	"github.com/antoniostano/dyadchat/internal/protocol"
)

// Session is the state machine for one matched pair. It is not safe for
// concurrent use; the Manager serializes every call.
type Session struct {
	ID           string
	QuestionType string
	MaxTurns     int
	PairedAt     time.Time

	state State
	// seats keeps pairing order. Seat 0 is the answerer.
	seats    [2]Participant
	roles    map[string]Role
	sequence []deck.Entry
	index    int

	ready    map[string]bool
	surveys  map[string]*Survey
	results  []QuestionResult
	notified bool

	messages   []Message
	count      int
	turn       string
	chatClosed bool
	answers    map[Role]*Answer

	logger *slog.Logger
}

// New pairs first and second. The older queue entry takes the answerer
// seat. A sequence without a regular question leaves the session Blocked.
func New(id string, first, second Participant, seq []deck.Entry, maxTurns int, questionType string, now time.Time, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	first.Role, second.Role = RoleAnswerer, RoleHelper
	s := &Session{
		ID:           id,
		QuestionType: questionType,
		MaxTurns:     maxTurns,
		PairedAt:     now,
		state:        StateAwaitingInstructions,
		seats:        [2]Participant{first, second},
		roles:        map[string]Role{first.Identity: RoleAnswerer, second.Identity: RoleHelper},
		sequence:     append([]deck.Entry(nil), seq...),
		ready:        make(map[string]bool),
		surveys:      make(map[string]*Survey),
		answers:      make(map[Role]*Answer),
		logger:       logger.With("session_id", id),
	}
	if deck.Regular(seq) == 0 {
		s.state = StateBlocked
	}
	return s
}

func (s *Session) State() State { return s.state }

func (s *Session) Participants() [2]Participant { return s.seats }

// Role returns the role fixed for identity at pairing.
func (s *Session) Role(identity string) (Role, bool) {
	r, ok := s.roles[identity]
	return r, ok
}

func (s *Session) IdentityOf(role Role) string {
	for _, p := range s.seats {
		if p.Role == role {
			return p.Identity
		}
	}
	return ""
}

// Partner returns the other seat's identity.
func (s *Session) Partner(identity string) string {
	if s.seats[0].Identity == identity {
		return s.seats[1].Identity
	}
	if s.seats[1].Identity == identity {
		return s.seats[0].Identity
	}
	return ""
}

func (s *Session) Sequence() []deck.Entry { return append([]deck.Entry(nil), s.sequence...) }

// Index is the zero-based current question.
func (s *Session) Index() int { return s.index }

func (s *Session) Results() []QuestionResult { return append([]QuestionResult(nil), s.results...) }

func (s *Session) SurveyBy(role Role) *Survey {
	return s.surveys[s.IdentityOf(role)]
}

func (s *Session) HasSurvey(identity string) bool { return s.surveys[identity] != nil }

// PersistableResults returns the non-demo questions both roles answered.
func (s *Session) PersistableResults() []QuestionResult {
	var out []QuestionResult
	for _, r := range s.results {
		if !r.Entry.Demo && r.Complete() {
			out = append(out, r)
		}
	}
	return out
}

func (s *Session) Close()   { s.state = StateClosed }
func (s *Session) Abandon() { s.state = StateAbandoned }

// Instructions greets both seats with their role.
func (s *Session) Instructions() Outcome {
	var o Outcome
	for _, p := range s.seats {
		o.send(p.Identity, s.instructionsFor(p.Identity))
	}
	return o
}

// MarkReady records that identity finished reading the instructions. The
// first signal is forwarded to the partner; the second starts question one.
func (s *Session) MarkReady(identity string) (Outcome, error) {
	var o Outcome
	if _, ok := s.roles[identity]; !ok {
		return o, ErrUnknownParticipant
	}
	if s.state != StateAwaitingInstructions || s.ready[identity] {
		return o, nil
	}
	s.ready[identity] = true
	partner := s.Partner(identity)
	if !s.ready[partner] {
		o.send(partner, protocol.NewSignal(protocol.TypePartnerReady))
		return o, nil
	}

	s.state = StateActive
	s.startQuestion()
	s.logger.Info("both participants ready, session active", "questions", len(s.sequence))
	for _, p := range s.seats {
		o.send(p.Identity, protocol.NewSignal(protocol.TypeBothReady))
		o.send(p.Identity, s.pairedFor(p.Identity, protocol.TypePaired))
		o.send(p.Identity, s.turnFor(p.Identity))
	}
	return o, nil
}

// PairedData re-sends the current question payload and turn status.
func (s *Session) PairedData(identity string) (Outcome, error) {
	var o Outcome
	if _, ok := s.roles[identity]; !ok {
		return o, ErrUnknownParticipant
	}
	if s.state != StateActive && s.state != StateQuestionSettled {
		return o, ErrNotActive
	}
	o.send(identity, s.pairedFor(identity, protocol.TypePaired))
	o.send(identity, s.turnFor(identity))
	return o, nil
}

// Resume re-delivers the minimum state a reconnecting client needs.
func (s *Session) Resume(identity string) Outcome {
	var o Outcome
	if _, ok := s.roles[identity]; !ok {
		return o
	}
	o.send(identity, s.instructionsFor(identity))
	switch s.state {
	case StateAwaitingInstructions:
		if s.ready[s.Partner(identity)] && !s.ready[identity] {
			o.send(identity, protocol.NewSignal(protocol.TypePartnerReady))
		}
	case StateActive, StateQuestionSettled:
		o.send(identity, s.pairedFor(identity, protocol.TypePaired))
		o.send(identity, s.turnFor(identity))
	case StateSurveyPending:
		if !s.HasSurvey(identity) {
			o.send(identity, protocol.NewSignal(protocol.TypeAllQuestionsComplete))
		}
	}
	return o
}

// SubmitAnswer records identity's choice for the current question.
func (s *Session) SubmitAnswer(identity string, choice *int, rtMS int64, now time.Time) (Outcome, error) {
	var o Outcome
	role, ok := s.roles[identity]
	if !ok {
		return o, ErrUnknownParticipant
	}
	if s.state != StateActive {
		return o, ErrNotActive
	}
	if s.answers[role] != nil {
		return o, ErrDuplicateAnswer
	}
	if !s.hasQuestion(role) {
		return o, ErrNotEligible
	}
	if choice != nil {
		opts := s.viewFor(role).Options
		if *choice < 0 || (len(opts) > 0 && *choice >= len(opts)) {
			return o, ErrInvalidChoice
		}
	}
	s.answers[role] = &Answer{Identity: identity, Role: role, Choice: choice, ReactionTimeMS: rtMS, At: now}
	s.logger.Info("answer recorded", "identity", identity, "role", role, "question", s.index+1)
	return s.checkSettled(), nil
}

// SubmitSurvey records identity's exit survey. Arriving while the last
// question is still open, it starts the bounded wait for the partner's
// answer.
func (s *Session) SubmitSurvey(identity string, sv Survey, now time.Time) (Outcome, error) {
	var o Outcome
	role, ok := s.roles[identity]
	if !ok {
		return o, ErrUnknownParticipant
	}
	if s.surveys[identity] != nil {
		return o, ErrDuplicateSurvey
	}
	switch {
	case s.state == StateSurveyPending:
	case s.state == StateActive && s.lastQuestion() && s.answers[role] != nil:
		o.AwaitFinal = true
	default:
		return o, ErrNotActive
	}
	sv.Identity, sv.Role, sv.SubmittedAt = identity, role, now
	s.surveys[identity] = &sv
	s.logger.Info("survey recorded", "identity", identity, "role", role)
	o.Complete = s.gateReady()
	return o, nil
}

// Advance moves a settled session to its next question.
func (s *Session) Advance() Outcome {
	var o Outcome
	if s.state != StateQuestionSettled {
		return o
	}
	s.validateRoles()
	s.index++
	s.state = StateActive
	s.startQuestion()
	for _, p := range s.seats {
		o.send(p.Identity, s.pairedFor(p.Identity, protocol.TypeNextQuestion))
		o.send(p.Identity, s.turnFor(p.Identity))
	}
	s.logger.Info("next question", "question", s.index+1, "total", len(s.sequence))
	return o
}

// ForceSettle closes the last question with whatever answers exist.
// Missing answers stay absent.
func (s *Session) ForceSettle() Outcome {
	if s.state != StateActive || !s.lastQuestion() {
		return Outcome{}
	}
	s.logger.Warn("settling final question with missing answers",
		"answerer_answered", s.answers[RoleAnswerer] != nil,
		"helper_answered", s.answers[RoleHelper] != nil)
	return s.settle()
}

// PartnerGone builds the one-time notice for identity's partner.
func (s *Session) PartnerGone(identity string) Outcome {
	var o Outcome
	partner := s.Partner(identity)
	if s.notified || partner == "" {
		return o
	}
	s.notified = true
	event := protocol.TypeEndPartner
	if !s.ready[identity] {
		event = protocol.TypeEndPartnerInstr
	}
	o.send(partner, protocol.NewSignal(event))
	return o
}

func (s *Session) checkSettled() Outcome {
	if s.answers[RoleAnswerer] != nil && s.answers[RoleHelper] != nil {
		return s.settle()
	}
	return Outcome{}
}

func (s *Session) settle() Outcome {
	var o Outcome
	answers := make(map[Role]*Answer, 2)
	for r, a := range s.answers {
		if a != nil {
			answers[r] = a
		}
	}
	s.results = append(s.results, QuestionResult{
		Index:    s.index,
		Entry:    s.sequence[s.index],
		Messages: append([]Message(nil), s.messages...),
		Answers:  answers,
	})
	if !s.lastQuestion() {
		s.state = StateQuestionSettled
		o.Advance = true
		return o
	}
	s.state = StateSurveyPending
	s.logger.Info("all questions complete", "questions", len(s.sequence))
	for _, p := range s.seats {
		o.send(p.Identity, protocol.NewSignal(protocol.TypeAllQuestionsComplete))
	}
	o.Complete = s.gateReady()
	return o
}

func (s *Session) gateReady() bool {
	if s.state != StateSurveyPending {
		return false
	}
	for _, p := range s.seats {
		if s.surveys[p.Identity] == nil {
			return false
		}
	}
	return true
}

func (s *Session) lastQuestion() bool { return s.index == len(s.sequence)-1 }

func (s *Session) startQuestion() {
	s.messages = nil
	s.count = 0
	s.chatClosed = false
	s.answers = make(map[Role]*Answer)
	s.turn = s.IdentityOf(RoleAnswerer)
}

// validateRoles checks the role table against pairing order. Roles are
// never reassigned; a mismatch is corrected and logged.
func (s *Session) validateRoles() {
	for i, p := range s.seats {
		want := RoleAnswerer
		if i == 1 {
			want = RoleHelper
		}
		if got := s.roles[p.Identity]; got != want {
			s.logger.Warn("role mismatch corrected from pairing order", "identity", p.Identity, "had", got, "want", want)
			s.roles[p.Identity] = want
		}
	}
}

func (s *Session) entry() deck.Entry { return s.sequence[s.index] }

func (s *Session) viewFor(role Role) catalog.View {
	if role == RoleAnswerer {
		return s.entry().Item.AnswererView()
	}
	return s.entry().Item.HelperView()
}

// hasQuestion reports whether role may submit an answer by hand.
func (s *Session) hasQuestion(role Role) bool {
	return s.viewFor(role).HasQuestion
}

func (s *Session) instructionsFor(identity string) protocol.PairedInstructions {
	return protocol.PairedInstructions{
		Type:         protocol.TypePairedInstructions,
		SessionID:    s.ID,
		Role:         string(s.roles[identity]),
		QuestionType: s.QuestionType,
		MaxTurns:     s.MaxTurns,
	}
}

func (s *Session) pairedFor(identity string, t protocol.MessageType) protocol.Paired {
	role := s.roles[identity]
	e := s.entry()
	return protocol.Paired{
		Type:           t,
		SessionID:      s.ID,
		Role:           string(role),
		Item:           s.viewFor(role),
		MaxTurns:       s.MaxTurns,
		QuestionType:   e.Category,
		QuestionNumber: s.index + 1,
		TotalQuestions: len(s.sequence),
		IsDemo:         e.Demo,
	}
}
