package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/antoniostano/dyadchat/internal/catalog"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client to server.
	TypeInstructionsReady MessageType = "instructions:ready"
	TypeRequestPairedData MessageType = "request:paired_data"
	TypeAnswerSubmit      MessageType = "answer:submit"
	TypeSurveySubmit      MessageType = "survey:submit"
	TypePing              MessageType = "ping"

	// Both directions.
	TypeChatMessage      MessageType = "chat:message"
	TypeEarlyTermination MessageType = "chat:early_termination"
	TypeTypingStart      MessageType = "typing:start"
	TypeTypingStop       MessageType = "typing:stop"

	// Server to client.
	TypePairedInstructions   MessageType = "paired:instructions"
	TypeBothReady            MessageType = "instructions:both_ready"
	TypePartnerReady         MessageType = "instructions:partner_ready"
	TypePaired               MessageType = "paired"
	TypeNextQuestion         MessageType = "next_question"
	TypeTurnYou              MessageType = "turn:you"
	TypeTurnWait             MessageType = "turn:wait"
	TypeChatClosed           MessageType = "chat:closed"
	TypeAllQuestionsComplete MessageType = "all_questions_complete"
	TypeSurveyAck            MessageType = "survey:ack"
	TypeBlockedRepeatPID     MessageType = "blocked:repeat_pid"
	TypeBlockedDeckComplete  MessageType = "blocked:deck_complete"
	TypeEndPartner           MessageType = "end:partner"
	TypeEndPartnerInstr      MessageType = "end:partner:instructions"
	TypeConnectionLost       MessageType = "connection_lost"
	TypeWaitingNoPartner     MessageType = "waiting:no_partner"
	TypePong                 MessageType = "pong"
	TypeErrorEvent           MessageType = "error_event"
)

// MaxTextLength caps chat message text, counted in characters.
const MaxTextLength = 2000

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Signal is any event that carries nothing but its type.
type Signal struct {
	Type MessageType `json:"type"`
}

type RequestPairedData struct {
	Type         MessageType `json:"type"`
	ExpectedRole string      `json:"expected_role,omitempty"`
}

type ChatMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// AnswerSubmit carries the chosen option index. Choice is nil for an
// explicit "no answer".
type AnswerSubmit struct {
	Type   MessageType `json:"type"`
	Choice *int        `json:"-"`
	RTMs   int64       `json:"rt"`
}

type SurveySubmit struct {
	Type       MessageType        `json:"type"`
	Survey     json.RawMessage    `json:"survey,omitempty"`
	AnswerData json.RawMessage    `json:"answerData,omitempty"`
	TimingData map[string]float64 `json:"timingData,omitempty"`
}

type PairedInstructions struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	Role         string      `json:"role"`
	QuestionType string      `json:"question_type"`
	MaxTurns     int         `json:"max_turns"`
}

// Paired is the full payload for the current question. It is sent as
// "paired" and as "next_question".
type Paired struct {
	Type           MessageType  `json:"type"`
	SessionID      string       `json:"session_id"`
	Role           string       `json:"role"`
	Item           catalog.View `json:"item"`
	MaxTurns       int          `json:"max_turns"`
	QuestionType   string       `json:"question_type"`
	QuestionNumber int          `json:"question_number"`
	TotalQuestions int          `json:"total_questions"`
	IsDemo         bool         `json:"is_demo"`
}

type ChatRelay struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	ServerTS int64       `json:"server_ts"`
}

type SurveyAck struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewSignal(t MessageType) Signal {
	return Signal{Type: t}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeInstructionsReady, TypeEarlyTermination, TypeTypingStart, TypeTypingStop, TypePing:
		return Signal{Type: env.Type}, nil
	case TypeRequestPairedData:
		var msg RequestPairedData
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.ExpectedRole = strings.TrimSpace(msg.ExpectedRole)
		return msg, nil
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid chat:message: empty text")
		}
		msg.Text = truncate(msg.Text, MaxTextLength)
		return msg, nil
	case TypeAnswerSubmit:
		var wire struct {
			Choice json.RawMessage `json:"choice"`
			RT     json.Number     `json:"rt"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}
		choice, err := parseChoice(wire.Choice)
		if err != nil {
			return nil, err
		}
		msg := AnswerSubmit{Type: env.Type, Choice: choice}
		if wire.RT != "" {
			rt, err := wire.RT.Float64()
			if err != nil || rt < 0 {
				return nil, errors.New("invalid answer:submit: rt")
			}
			msg.RTMs = int64(rt)
		}
		return msg, nil
	case TypeSurveySubmit:
		var msg SurveySubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// parseChoice accepts a number, a numeric string, or null.
func parseChoice(raw json.RawMessage) (*int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, errors.New("invalid answer:submit: choice")
		}
		num = json.Number(strings.TrimSpace(str))
	}
	n, err := strconv.Atoi(num.String())
	if err != nil || n < 0 {
		return nil, errors.New("invalid answer:submit: choice")
	}
	return &n, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// TypeOf returns the message type of any event defined in this package.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case Signal:
		return m.Type, true
	case RequestPairedData:
		return m.Type, true
	case ChatMessage:
		return m.Type, true
	case AnswerSubmit:
		return m.Type, true
	case SurveySubmit:
		return m.Type, true
	case PairedInstructions:
		return m.Type, true
	case Paired:
		return m.Type, true
	case ChatRelay:
		return m.Type, true
	case SurveyAck:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
