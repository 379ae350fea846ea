package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/dyadchat/internal/catalog"
	"github.com/antoniostano/dyadchat/internal/session"
)

// Build turns every persistable question of a session into a Record.
func Build(s *session.Session, now time.Time) []Record {
	results := s.PersistableResults()
	if len(results) == 0 {
		return nil
	}

	seats := s.Participants()
	userRoles := make(map[string]string, len(seats))
	identityRole := make(map[string]session.Role, len(seats))
	for _, p := range seats {
		userRoles[p.ExternalID] = string(p.Role)
		identityRole[p.Identity] = p.Role
	}

	surveys := make(map[string]SurveyRecord, 2)
	rts := make(map[string]TimingSummary, 2)
	for _, role := range []session.Role{session.RoleAnswerer, session.RoleHelper} {
		sv := s.SurveyBy(role)
		if sv == nil {
			rts[string(role)] = SummarizeTiming(nil)
			continue
		}
		surveys[string(role)] = SurveyRecord{
			Identity:    sv.Identity,
			Responses:   sv.Responses,
			AnswerData:  sv.AnswerData,
			Timing:      sv.Timing,
			SubmittedAt: FormatTimestamp(sv.SubmittedAt),
		}
		rts[string(role)] = SummarizeTiming(sv.Timing)
	}

	total := len(s.Sequence())
	records := make([]Record, 0, len(results))
	for _, res := range results {
		item := res.Entry.Item
		qField := item.QuestionField()
		sField := item.SupportField()

		rec := Record{
			SampleID:       firstNonEmpty(item.SampleID, item.ID),
			ItemID:         item.ID,
			QuestionType:   firstNonEmpty(item.QuestionType, s.QuestionType),
			RoomID:         s.ID,
			QuestionIndex:  res.Index,
			TotalQuestions: total,
			MaxTurns:       s.MaxTurns,
			IsDemo:         res.Entry.Demo,
			Item:           item.Raw,
			Answerer:       roleView(item, qField),
			Helper:         roleView(item, sField),
			Messages:       make([]MessageRecord, 0, len(res.Messages)),
			Conversation:   make(map[string]string, len(res.Messages)),
			Answers:        make(map[string]AnswerRecord, 2),
			Surveys:        surveys,
			RTs:            rts,
			PairedAt:       FormatTimestamp(s.PairedAt),
			RecordedAt:     FormatTimestamp(now),
			UserRoles:      userRoles,
		}

		counts := map[session.Role]int{}
		for _, m := range res.Messages {
			role := m.Role
			if role == "" {
				role = identityRole[m.Identity]
			}
			counts[role]++
			rec.Conversation[fmt.Sprintf("%s_%d", role, counts[role])] = m.Text
			rec.Messages = append(rec.Messages, MessageRecord{
				Role:     string(role),
				Identity: m.Identity,
				Text:     m.Text,
				At:       FormatTimestamp(m.At),
			})
		}

		for role, ans := range res.Answers {
			if ans == nil {
				continue
			}
			field := qField
			if role == session.RoleHelper {
				field = sField
			}
			out := AnswerRecord{
				Identity:  ans.Identity,
				ChoiceIdx: ans.Choice,
				RT:        FormatReactionTime(ans.ReactionTimeMS),
				At:        FormatTimestamp(ans.At),
				Auto:      ans.Auto,
			}
			if ans.Choice != nil {
				out.ChoiceText = catalog.OptionText(item.OptionsFor(field), *ans.Choice)
			}
			rec.Answers[string(role)] = out
		}

		records = append(records, rec)
	}
	return records
}

func roleView(item catalog.Item, f catalog.Field) RoleView {
	v := RoleView{
		Field:   string(f),
		Options: item.OptionsFor(f),
		GTIdx:   item.CorrectIndex(f),
		GTText:  item.CorrectText(f),
	}
	if f == catalog.FieldUser1 {
		v.Image, v.Goal, v.Question = item.User1Image, item.User1Goal, item.User1Question
	} else {
		v.Image, v.Goal, v.Question = item.User2Image, item.User2Goal, item.User2Question
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
