package transcript

import (
	"fmt"
	"time"
)

// Timestamp renders one instant three ways.
type Timestamp struct {
	ISO      string `json:"iso"`
	Readable string `json:"readable"`
	Unix     int64  `json:"unix"`
}

// ReactionTime renders a duration in milliseconds.
type ReactionTime struct {
	Milliseconds int64  `json:"milliseconds"`
	Seconds      string `json:"seconds"`
	Human        string `json:"human"`
}

// FormatTimestamp uses UTC; Unix is in milliseconds.
func FormatTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	t = t.UTC()
	return Timestamp{
		ISO:      t.Format("2006-01-02T15:04:05.000Z"),
		Readable: t.Format("01/02/2006, 15:04:05"),
		Unix:     t.UnixMilli(),
	}
}

func FormatReactionTime(ms int64) ReactionTime {
	seconds := ms / 1000
	minutes := seconds / 60
	human := fmt.Sprintf("%d.%03ds", seconds%60, ms%1000)
	if minutes > 0 {
		human = fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	return ReactionTime{
		Milliseconds: ms,
		Seconds:      fmt.Sprintf("%.2f", float64(ms)/1000),
		Human:        human,
	}
}

// timingPhases names each phase by its start and end client marks.
var timingPhases = []struct {
	name, start, end string
}{
	{"consent_page_rt", "consentPageStartTime", "instructionsPageStartTime"},
	{"instructions_page_rt", "instructionsPageStartTime", "waitingPageStartTime"},
	{"waiting_page_time", "waitingPageStartTime", "chatBeginTime"},
	{"chat_begin_to_first_msg_rt", "chatBeginTime", "firstMessageTime"},
	{"chat_end_to_answer_rt", "chatEndTime", "answerSubmitTime"},
	{"survey_rt", "answerSubmitTime", "surveySubmitTime"},
	{"total_experiment_time", "consentPageStartTime", "surveySubmitTime"},
}

// SummarizeTiming derives phase durations from client timing marks given
// in epoch milliseconds.
func SummarizeTiming(marks map[string]float64) TimingSummary {
	out := make(TimingSummary, len(timingPhases))
	for _, p := range timingPhases {
		start, ok1 := marks[p.start]
		end, ok2 := marks[p.end]
		if !ok1 || !ok2 || start <= 0 || end <= 0 {
			out[p.name] = nil
			continue
		}
		rt := FormatReactionTime(int64(end - start + 0.5))
		out[p.name] = &rt
	}
	return out
}
