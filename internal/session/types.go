package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/antoniostano/dyadchat/internal/deck"
)

// Role is fixed per participant for the lifetime of a session.
type Role string

const (
	RoleAnswerer Role = "answerer"
	RoleHelper   Role = "helper"
)

type State string

const (
	StateAwaitingInstructions State = "awaiting_instructions"
	StateActive               State = "active"
	StateQuestionSettled      State = "question_settled"
	StateSurveyPending        State = "survey_pending"
	StateClosed               State = "closed"
	StateBlocked              State = "blocked"
	StateAbandoned            State = "abandoned"
)

// Live reports whether the session still accepts participant events.
func (s State) Live() bool {
	switch s {
	case StateClosed, StateBlocked, StateAbandoned:
		return false
	default:
		return true
	}
}

var (
	ErrNotFound           = errors.New("session not found")
	ErrUnknownParticipant = errors.New("identity not in session")
	ErrNotActive          = errors.New("no active question")
	ErrNotAnswerer        = errors.New("only the answerer may end the chat")
	ErrNotEligible        = errors.New("participant has no question to answer")
	ErrDuplicateAnswer    = errors.New("answer already recorded")
	ErrInvalidChoice      = errors.New("choice out of range")
	ErrDuplicateSurvey    = errors.New("survey already recorded")
)

// Participant is one seat of a session. Identity is the stable key; the
// connection handle lives in the Manager.
type Participant struct {
	Identity string `json:"identity"`
	// ExternalID is the caller-supplied token. It equals Identity except for
	// a second seat taken by the same token when distinct pairing is off.
	ExternalID string    `json:"external_id"`
	Role       Role      `json:"role"`
	QueuedAt   time.Time `json:"queued_at"`
}

type Message struct {
	Identity string    `json:"identity"`
	Role     Role      `json:"role"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Answer is one participant's choice for one question. A nil Choice is an
// explicit "no answer"; Auto marks answers recorded on behalf of a
// participant without a question.
type Answer struct {
	Identity       string    `json:"identity"`
	Role           Role      `json:"role"`
	Choice         *int      `json:"choice"`
	ReactionTimeMS int64     `json:"rt_ms"`
	At             time.Time `json:"at"`
	Auto           bool      `json:"auto"`
}

type Survey struct {
	Identity    string             `json:"identity"`
	Role        Role               `json:"role"`
	Responses   json.RawMessage    `json:"responses,omitempty"`
	AnswerData  json.RawMessage    `json:"answer_data,omitempty"`
	Timing      map[string]float64 `json:"timing,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// QuestionResult is the settled outcome of one sequence entry. A role
// missing from Answers had no answer when the question was forced closed.
type QuestionResult struct {
	Index    int              `json:"index"`
	Entry    deck.Entry       `json:"entry"`
	Messages []Message        `json:"messages"`
	Answers  map[Role]*Answer `json:"answers"`
}

// Complete reports whether both roles answered.
func (r QuestionResult) Complete() bool {
	return r.Answers[RoleAnswerer] != nil && r.Answers[RoleHelper] != nil
}

// Delivery addresses one outbound event to a participant identity.
type Delivery struct {
	To    string
	Event any
}

// Outcome is what a transition asks the Manager to do next.
type Outcome struct {
	Out []Delivery
	// Advance asks for the next question after the pacing delay.
	Advance bool
	// AwaitFinal asks for a bounded wait before force-settling the last
	// question.
	AwaitFinal bool
	// Complete means the session passed the completion gate.
	Complete bool
}

func (o *Outcome) send(to string, event any) {
	o.Out = append(o.Out, Delivery{To: to, Event: event})
}

func (o *Outcome) merge(other Outcome) {
	o.Out = append(o.Out, other.Out...)
	o.Advance = o.Advance || other.Advance
	o.AwaitFinal = o.AwaitFinal || other.AwaitFinal
	o.Complete = o.Complete || other.Complete
}
