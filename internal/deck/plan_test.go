package deck

import (
	"testing"

	"github.com/antoniostano/dyadchat/internal/catalog"
)

func TestBuildSequenceDemoCountsTowardCategory(t *testing.T) {
	s, _ := openTest(t, testCatalog(5, "counting"))
	demo := catalog.New([]catalog.Item{{ID: "demo-1", QuestionType: "counting"}})

	seq := s.BuildSequence(Plan{
		QuestionType: "counting",
		PerCategory:  map[string]int{"counting": 3},
		Demo:         demo,
	})
	if len(seq) != 3 {
		t.Fatalf("len(seq) = %d, want 3", len(seq))
	}
	if !seq[0].Demo || seq[0].Item.ID != "demo-1" {
		t.Fatalf("seq[0] = %+v, want demo first", seq[0])
	}
	if Regular(seq) != 2 {
		t.Fatalf("Regular() = %d, want 2", Regular(seq))
	}
}

func TestBuildSequenceAllTypesUnique(t *testing.T) {
	items := catalog.New(append(testCatalog(4, "counting").Items(), testCatalog(4, "spatial").Items()...))
	s, _ := openTest(t, items)

	seq := s.BuildSequence(Plan{
		QuestionType: catalog.AllTypes,
		PerCategory:  map[string]int{"counting": 2, "spatial": 2},
		Demo:         catalog.New([]catalog.Item{{ID: "demo", QuestionType: "counting"}}),
	})
	if len(seq) != 4 {
		t.Fatalf("len(seq) = %d, want 4", len(seq))
	}
	ids := map[string]bool{}
	for _, e := range seq {
		if e.Demo {
			t.Fatalf("all_types sequence must not include a demo entry")
		}
		if ids[e.Item.ID] {
			t.Fatalf("duplicate %s in sequence", e.Item.ID)
		}
		ids[e.Item.ID] = true
	}
}

func TestBuildSequenceEmptyWhenCategoryExhausted(t *testing.T) {
	items := testCatalog(2, "counting")
	s, _ := openTest(t, items)
	for _, id := range items.IDs() {
		if err := s.MarkCompleted(id); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}
	}
	seq := s.BuildSequence(Plan{QuestionType: "counting", PerCategory: map[string]int{"counting": 3}})
	if Regular(seq) != 0 {
		t.Fatalf("Regular() = %d, want 0", Regular(seq))
	}
}

func TestBuildSequenceFallsBackToDeck(t *testing.T) {
	s, _ := openTest(t, testCatalog(3, "misc"))
	seq := s.BuildSequence(Plan{QuestionType: "misc"})
	if len(seq) != 1 || seq[0].Demo {
		t.Fatalf("seq = %+v, want one regular deck draw", seq)
	}
}

func TestPlanDemoOnly(t *testing.T) {
	demo := catalog.New([]catalog.Item{{ID: "demo-1", QuestionType: "counting"}})
	cases := []struct {
		name string
		plan Plan
		want bool
	}{
		{"demo fills the only slot", Plan{QuestionType: "counting", PerCategory: map[string]int{"counting": 1}, Demo: demo}, true},
		{"room for a regular question", Plan{QuestionType: "counting", PerCategory: map[string]int{"counting": 2}, Demo: demo}, false},
		{"no demo catalog", Plan{QuestionType: "counting", PerCategory: map[string]int{"counting": 1}}, false},
		{"all types skip the demo", Plan{QuestionType: catalog.AllTypes, PerCategory: map[string]int{"counting": 1}, Demo: demo}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.plan.DemoOnly(); got != tc.want {
				t.Fatalf("DemoOnly() = %v, want %v", got, tc.want)
			}
			if tc.want {
				s, _ := openTest(t, testCatalog(3, "counting"))
				if seq := s.BuildSequence(tc.plan); Regular(seq) != 0 {
					t.Fatalf("Regular() = %d for a demo-only plan, want 0", Regular(seq))
				}
			}
		})
	}
}
