package deck

import (
	"sort"

	"github.com/antoniostano/dyadchat/internal/catalog"
)

// Entry is one question of a session's sequence.
type Entry struct {
	Item     catalog.Item `json:"item"`
	Category string       `json:"category"`
	Demo     bool         `json:"demo"`
}

// Plan describes how a session's question sequence is drawn.
type Plan struct {
	// QuestionType is a single category or catalog.AllTypes.
	QuestionType string
	// PerCategory is the number of questions per category. A demo question
	// counts toward its category.
	PerCategory map[string]int
	// Demo holds the demo pool; one is drawn uniformly when non-empty.
	Demo *catalog.Catalog
}

// DemoOnly reports whether every sequence drawn for p is just the demo
// question, which blocks every pair.
func (p Plan) DemoOnly() bool {
	return p.QuestionType != catalog.AllTypes && p.Demo.Len() > 0 && p.PerCategory[p.QuestionType] == 1
}

// BuildSequence draws a question sequence for one session. Nothing is
// marked; items stay eligible until the session completes. The result has
// no duplicate ids, and only the demo entry, if any, is flagged Demo.
func (s *Scheduler) BuildSequence(p Plan) []Entry {
	var seq []Entry
	used := make(map[string]struct{})

	if p.QuestionType != catalog.AllTypes && p.Demo.Len() > 0 {
		demos := p.Demo.Items()
		s.mu.Lock()
		pick := demos[s.rng.IntN(len(demos))]
		s.mu.Unlock()
		seq = append(seq, Entry{Item: pick, Category: p.QuestionType, Demo: true})
		used[pick.ID] = struct{}{}
	}

	add := func(category string, items []catalog.Item) {
		for _, it := range items {
			if _, dup := used[it.ID]; dup {
				s.logger.Error("duplicate item in sequence, skipping", "item_id", it.ID)
				continue
			}
			used[it.ID] = struct{}{}
			seq = append(seq, Entry{Item: it, Category: category})
		}
	}

	switch {
	case p.QuestionType == catalog.AllTypes && len(p.PerCategory) > 0:
		categories := make([]string, 0, len(p.PerCategory))
		for c := range p.PerCategory {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			items, _ := s.SampleByCategory(c, p.PerCategory[c], used)
			add(c, items)
		}
		s.mu.Lock()
		s.shuffle(len(seq), func(i, j int) { seq[i], seq[j] = seq[j], seq[i] })
		s.mu.Unlock()
	case p.PerCategory[p.QuestionType] > 0:
		count := p.PerCategory[p.QuestionType]
		if len(seq) > 0 {
			count--
		}
		items, _ := s.SampleByCategory(p.QuestionType, count, used)
		add(p.QuestionType, items)
	default:
		// No configured count: a single draw from the rotating deck.
		it, err := s.NextItem(used)
		if err == nil {
			add(it.QuestionType, []catalog.Item{it})
		}
	}
	return seq
}

// Regular counts the non-demo entries of seq.
func Regular(seq []Entry) int {
	n := 0
	for _, e := range seq {
		if !e.Demo {
			n++
		}
	}
	return n
}
