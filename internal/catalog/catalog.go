// Package catalog loads task items and derives the per-participant views.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AllTypes selects every configured category instead of a single one.
const AllTypes = "all_types"

var ErrEmptyCatalog = errors.New("catalog contains no items")

// Catalog is an immutable, ordered item pool.
type Catalog struct {
	items []Item
	byID  map[string]int
}

// New indexes items by id. Later duplicates are dropped.
func New(items []Item) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(items))}
	for _, it := range items {
		if _, dup := c.byID[it.ID]; dup {
			continue
		}
		c.byID[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return c
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

func (c *Catalog) Get(id string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Items returns the items in load order.
func (c *Catalog) Items() []Item {
	if c == nil {
		return nil
	}
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// IDs returns item ids in load order.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.ID)
	}
	return out
}

// Files names the catalog and demo files for a question type. The demo
// file is empty when the type has none.
func Files(questionType string) (itemsFile, demoFile string) {
	switch questionType {
	case "counting":
		return "sampled_counting_v4.json", "demo_counting.json"
	case "anchor":
		return "sampled_anchor_v4.json", "demo_anchor.json"
	case "relative_distance":
		return "sampled_relative_distance_v4.json", "demo_relative_distance.json"
	case "spatial":
		return "sampled_spatial_v4.json", "demo_spatial.json"
	case "perspective_taking":
		return "sampled_perspective_v4.json", "demo_perspective_taking.json"
	default:
		return "items.json", ""
	}
}

// Load reads the item catalog and optional demo catalog for questionType
// from dir. A missing or malformed demo file is logged and skipped.
func Load(dir, questionType string, logger *slog.Logger) (items *Catalog, demo *Catalog, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	itemsFile, demoFile := Files(questionType)
	loaded, err := LoadFile(filepath.Join(dir, itemsFile), logger)
	if err != nil {
		return nil, nil, err
	}
	if len(loaded) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", itemsFile, ErrEmptyCatalog)
	}
	items = New(loaded)
	logger.Info("catalog loaded", "file", itemsFile, "items", items.Len(), "question_type", questionType)

	demo = New(nil)
	if demoFile == "" || questionType == AllTypes {
		return items, demo, nil
	}
	demoPath := filepath.Join(dir, demoFile)
	if _, statErr := os.Stat(demoPath); statErr != nil {
		logger.Warn("demo catalog not found, demo questions disabled", "file", demoFile)
		return items, demo, nil
	}
	demoItems, err := LoadFile(demoPath, logger)
	if err != nil {
		logger.Warn("demo catalog unreadable, demo questions disabled", "file", demoFile, "error", err)
		return items, demo, nil
	}
	demo = New(demoItems)
	logger.Info("demo catalog loaded", "file", demoFile, "items", demo.Len())
	return items, demo, nil
}

// LoadFile parses one catalog file. JSON and YAML (.yaml, .yml) are
// accepted, shaped as an array of items, an object with a "samples" array,
// or a single item object. Items that fail validation are skipped.
func LoadFile(path string, logger *slog.Logger) ([]Item, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", filepath.Base(path), err)
	}

	records, err := records(doc)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", filepath.Base(path), err)
	}

	validate := validator.New()
	items := make([]Item, 0, len(records))
	for i, rec := range records {
		it, err := decodeItem(rec)
		if err != nil {
			logger.Warn("skipping catalog record", "file", filepath.Base(path), "index", i, "error", err)
			continue
		}
		if err := validate.Struct(it); err != nil {
			logger.Warn("skipping invalid catalog record", "file", filepath.Base(path), "index", i, "error", err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func records(doc any) ([]map[string]any, error) {
	switch v := doc.(type) {
	case []any:
		return toRecords(v)
	case map[string]any:
		if samples, ok := v["samples"].([]any); ok {
			return toRecords(samples)
		}
		if _, ok := v["question_type"]; ok {
			return []map[string]any{v}, nil
		}
	}
	return nil, errors.New("expected array, object with samples array, or single item")
}

func toRecords(arr []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(arr))
	for i, raw := range arr {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is not an object", i)
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeItem(rec map[string]any) (Item, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Item{}, err
	}
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, err
	}
	if it.ID == "" {
		it.ID = it.SampleID
	}
	if it.QuestionType == "" {
		it.QuestionType = "unknown"
	}
	it.Raw = rec
	return it, nil
}
