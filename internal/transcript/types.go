package transcript

import (
	"context"
	"encoding/json"
)

// Record is one completed, non-demo question of a session.
type Record struct {
	SampleID       string         `json:"sample_id"`
	ItemID         string         `json:"item_id"`
	QuestionType   string         `json:"question_type"`
	RoomID         string         `json:"room_id"`
	QuestionIndex  int            `json:"question_index"`
	TotalQuestions int            `json:"total_questions"`
	MaxTurns       int            `json:"max_turns"`
	IsDemo         bool           `json:"is_demo"`
	Item           map[string]any `json:"item"`

	Answerer RoleView `json:"answerer"`
	Helper   RoleView `json:"helper"`

	Messages     []MessageRecord          `json:"messages"`
	Conversation map[string]string        `json:"conversation"`
	Answers      map[string]AnswerRecord  `json:"answers"`
	Surveys      map[string]SurveyRecord  `json:"surveys"`
	RTs          map[string]TimingSummary `json:"rts"`

	PairedAt   Timestamp         `json:"paired_at"`
	RecordedAt Timestamp         `json:"recorded_at"`
	UserRoles  map[string]string `json:"user_roles"`
}

// RoleView is the half of the item one role saw.
type RoleView struct {
	Field    string   `json:"field"`
	Image    string   `json:"image"`
	Goal     string   `json:"goal,omitempty"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	GTIdx    *int     `json:"gt_idx"`
	GTText   string   `json:"gt_text"`
}

type MessageRecord struct {
	Role     string    `json:"role"`
	Identity string    `json:"identity"`
	Text     string    `json:"text"`
	At       Timestamp `json:"at"`
}

type AnswerRecord struct {
	Identity   string       `json:"identity"`
	ChoiceIdx  *int         `json:"choice_idx"`
	ChoiceText string       `json:"choice_text"`
	RT         ReactionTime `json:"rt"`
	At         Timestamp    `json:"at"`
	Auto       bool         `json:"auto"`
}

type SurveyRecord struct {
	Identity    string             `json:"identity"`
	Responses   json.RawMessage    `json:"survey,omitempty"`
	AnswerData  json.RawMessage    `json:"answer_data,omitempty"`
	Timing      map[string]float64 `json:"timing_data,omitempty"`
	SubmittedAt Timestamp          `json:"submitted_at"`
}

// TimingSummary maps a phase name to its duration. A phase whose client
// marks are missing is nil.
type TimingSummary map[string]*ReactionTime

// Store persists transcript records. Appends of one batch are all or
// nothing where the backend allows it.
type Store interface {
	Append(ctx context.Context, records []Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
