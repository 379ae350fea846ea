package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFileAcceptsSamplesEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "items.json", `{"samples":[
		{"sample_id":"s1","question_type":"counting","user_1_question":"How many chairs?","options_user_1":["1","2"],"user_1_gt_answer_idx":1,"scene_id":"scene-9"},
		{"id":"s2","question_type":"counting"},
		{"question_type":"counting"}
	]}`)

	items, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2 (record without id skipped)", len(items))
	}
	if items[0].ID != "s1" {
		t.Fatalf("ID = %q, want sample_id fallback %q", items[0].ID, "s1")
	}
	if items[0].Raw["scene_id"] != "scene-9" {
		t.Fatalf("Raw[scene_id] = %v, want scene-9", items[0].Raw["scene_id"])
	}
}

func TestLoadFileYAMLSingleObject(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "demo.yaml", "id: demo-1\nquestion_type: spatial\nuser_2_question: Where is the lamp?\n")

	items, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "demo-1" {
		t.Fatalf("items = %+v, want single demo-1", items)
	}
	if items[0].QuestionField() != FieldUser2 {
		t.Fatalf("QuestionField() = %q, want %q", items[0].QuestionField(), FieldUser2)
	}
}

func TestLoadFileRejectsUnknownShape(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.json", `{"foo":1}`)
	if _, err := LoadFile(path, nil); err == nil {
		t.Fatalf("expected error for unknown catalog shape")
	}
}

func TestLoadSkipsMissingDemo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sampled_counting_v4.json", `[{"id":"a","question_type":"counting"}]`)

	items, demo, err := Load(dir, "counting", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if items.Len() != 1 {
		t.Fatalf("items.Len() = %d, want 1", items.Len())
	}
	if demo.Len() != 0 {
		t.Fatalf("demo.Len() = %d, want 0", demo.Len())
	}
}

func TestNewDropsDuplicateIDs(t *testing.T) {
	c := New([]Item{{ID: "a", QuestionType: "x"}, {ID: "a", QuestionType: "y"}})
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	it, _ := c.Get("a")
	if it.QuestionType != "x" {
		t.Fatalf("QuestionType = %q, want first occurrence", it.QuestionType)
	}
}

func TestViewsSplitQuestionAndSupport(t *testing.T) {
	idx := 2
	it := Item{
		ID:               "v1",
		QuestionType:     "counting",
		User1Image:       "a.png",
		User2Image:       "b.png",
		User2Question:    "How many cups?",
		OptionsUser2:     []string{"1", "2", "3"},
		User2GTAnswerIdx: &idx,
	}

	ans := it.AnswererView()
	if ans.Field != FieldUser2 || ans.ImageURL != "b.png" || !ans.HasQuestion || !ans.HasOptions {
		t.Fatalf("unexpected answerer view: %+v", ans)
	}
	if ans.CorrectAnswer == nil || *ans.CorrectAnswer != 2 {
		t.Fatalf("CorrectAnswer = %v, want 2", ans.CorrectAnswer)
	}

	help := it.HelperView()
	if help.Field != FieldUser1 || help.ImageURL != "a.png" || help.HasQuestion || help.HasOptions {
		t.Fatalf("unexpected helper view: %+v", help)
	}
	if got := it.CorrectText(FieldUser2); got != "3" {
		t.Fatalf("CorrectText() = %q, want %q", got, "3")
	}
}
