package catalog

import "strings"

// Field names one of the two participant-facing halves of an item.
type Field string

const (
	FieldUser1 Field = "user_1"
	FieldUser2 Field = "user_2"
)

// Item is one task item. It is immutable once loaded.
type Item struct {
	ID                string   `json:"id" validate:"required"`
	SampleID          string   `json:"sample_id,omitempty"`
	QuestionType      string   `json:"question_type" validate:"required"`
	User1Image        string   `json:"user_1_image,omitempty"`
	User2Image        string   `json:"user_2_image,omitempty"`
	User1Goal         string   `json:"user_1_goal,omitempty"`
	User2Goal         string   `json:"user_2_goal,omitempty"`
	User1Question     string   `json:"user_1_question,omitempty"`
	User2Question     string   `json:"user_2_question,omitempty"`
	Options           []string `json:"options,omitempty"`
	OptionsUser1      []string `json:"options_user_1,omitempty"`
	OptionsUser2      []string `json:"options_user_2,omitempty"`
	User1GTAnswerIdx  *int     `json:"user_1_gt_answer_idx,omitempty"`
	User2GTAnswerIdx  *int     `json:"user_2_gt_answer_idx,omitempty"`
	User1GTAnswer     *int     `json:"user_1_gt_answer,omitempty"`
	User2GTAnswer     *int     `json:"user_2_gt_answer,omitempty"`
	User1GTAnswerText string   `json:"user_1_gt_answer_text,omitempty"`
	User2GTAnswerText string   `json:"user_2_gt_answer_text,omitempty"`

	// Raw keeps every field of the source record for transcripts.
	Raw map[string]any `json:"-"`
}

// View is what one participant sees for an item.
type View struct {
	ItemID        string   `json:"item_id"`
	QuestionType  string   `json:"question_type"`
	Field         Field    `json:"field"`
	ImageURL      string   `json:"image_url"`
	Goal          string   `json:"goal,omitempty"`
	GoalQuestion  string   `json:"goal_question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correct_answer"`
	HasQuestion   bool     `json:"has_question"`
	HasOptions    bool     `json:"has_options"`
}

// QuestionField is the half that carries the live question: user_1 when it
// has question text, otherwise user_2.
func (it Item) QuestionField() Field {
	if strings.TrimSpace(it.User1Question) != "" {
		return FieldUser1
	}
	return FieldUser2
}

// SupportField is the half opposite the question.
func (it Item) SupportField() Field {
	if it.QuestionField() == FieldUser1 {
		return FieldUser2
	}
	return FieldUser1
}

// AnswererView always carries the question.
func (it Item) AnswererView() View {
	v := it.view(it.QuestionField())
	v.HasQuestion = true
	v.HasOptions = len(it.fieldOptions(v.Field)) > 0
	return v
}

// HelperView is support-only unless the item also puts a question on the
// support half.
func (it Item) HelperView() View {
	v := it.view(it.SupportField())
	v.HasQuestion = strings.TrimSpace(v.GoalQuestion) != ""
	v.HasOptions = v.HasQuestion && len(v.Options) > 0
	return v
}

// OptionsFor returns the choices shown on a field, falling back to the
// shared option list.
func (it Item) OptionsFor(f Field) []string {
	if opts := it.fieldOptions(f); len(opts) > 0 {
		return opts
	}
	return it.Options
}

// CorrectIndex returns the ground-truth option index for a field, if any.
func (it Item) CorrectIndex(f Field) *int {
	if f == FieldUser1 {
		if it.User1GTAnswerIdx != nil {
			return it.User1GTAnswerIdx
		}
		return it.User1GTAnswer
	}
	if it.User2GTAnswerIdx != nil {
		return it.User2GTAnswerIdx
	}
	return it.User2GTAnswer
}

// CorrectText returns the ground-truth answer text for a field.
func (it Item) CorrectText(f Field) string {
	text := it.User2GTAnswerText
	if f == FieldUser1 {
		text = it.User1GTAnswerText
	}
	if text != "" {
		return text
	}
	if idx := it.CorrectIndex(f); idx != nil {
		return OptionText(it.OptionsFor(f), *idx)
	}
	return ""
}

// OptionText returns opts[idx] or "" when idx is out of range.
func OptionText(opts []string, idx int) string {
	if idx < 0 || idx >= len(opts) {
		return ""
	}
	return opts[idx]
}

func (it Item) view(f Field) View {
	v := View{
		ItemID:        it.ID,
		QuestionType:  it.QuestionType,
		Field:         f,
		Options:       it.OptionsFor(f),
		CorrectAnswer: it.CorrectIndex(f),
	}
	if f == FieldUser1 {
		v.ImageURL, v.Goal, v.GoalQuestion = it.User1Image, it.User1Goal, it.User1Question
	} else {
		v.ImageURL, v.Goal, v.GoalQuestion = it.User2Image, it.User2Goal, it.User2Question
	}
	return v
}

func (it Item) fieldOptions(f Field) []string {
	if f == FieldUser1 {
		return it.OptionsUser1
	}
	return it.OptionsUser2
}
