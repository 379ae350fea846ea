// Package deck hands out catalog items without repetition until every item
// of the cycle has been marked completed. State survives restarts.
package deck

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/antoniostano/dyadchat/internal/atomicfile"
	"github.com/antoniostano/dyadchat/internal/catalog"
)

var (
	ErrUnknownItem = errors.New("item not in catalog")
	ErrNoItems     = errors.New("no eligible items")
)

// State is the persisted deck file.
type State struct {
	Order  []string `json:"order"`
	Idx    int      `json:"idx"`
	Marked []string `json:"marked"`
}

// Status summarizes deck progress.
type Status struct {
	Total  int `json:"total"`
	Marked int `json:"marked"`
	Cursor int `json:"cursor"`
	Order  int `json:"order"`
}

type Option func(*Scheduler)

// WithRand replaces the shuffle source.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler owns the deck for one catalog. All mutations persist before
// returning.
type Scheduler struct {
	mu     sync.Mutex
	path   string
	items  *catalog.Catalog
	order  []string
	idx    int
	marked map[string]struct{}
	rng    *rand.Rand
	logger *slog.Logger
}

// Open loads the deck state at path, dropping ids no longer in the catalog.
// A missing or unreadable state file starts a fresh cycle.
func Open(path string, items *catalog.Catalog, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		path:   path,
		items:  items,
		marked: make(map[string]struct{}),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var st State
	err := atomicfile.ReadJSON(path, &st)
	switch {
	case err == nil:
		for _, id := range st.Order {
			if id != "" && items.Has(id) {
				s.order = append(s.order, id)
			}
		}
		s.idx = min(max(0, st.Idx), len(s.order))
		for _, id := range st.Marked {
			if id != "" && items.Has(id) {
				s.marked[id] = struct{}{}
			}
		}
		s.logger.Info("deck state loaded", "path", path, "order", len(s.order), "marked", len(s.marked))
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("no deck state, starting fresh cycle", "path", path)
	default:
		s.logger.Warn("deck state unreadable, starting fresh cycle", "path", path, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		if err := s.reshuffleLocked(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NextItem returns the next item of the cycle that is neither marked nor in
// exclude. When the cursor runs out the unmarked remainder is reshuffled; a
// fully marked deck starts a new cycle.
func (s *Scheduler) NextItem(exclude map[string]struct{}) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if s.idx >= len(s.order) {
			if err := s.reshuffleLocked(exclude); err != nil {
				return catalog.Item{}, err
			}
		}
		for s.idx < len(s.order) {
			id := s.order[s.idx]
			s.idx++
			if _, done := s.marked[id]; done {
				continue
			}
			if _, skip := exclude[id]; skip {
				continue
			}
			if err := s.saveLocked(); err != nil {
				return catalog.Item{}, err
			}
			it, ok := s.items.Get(id)
			if !ok {
				return catalog.Item{}, fmt.Errorf("%s: %w", id, ErrUnknownItem)
			}
			return it, nil
		}
	}
	return catalog.Item{}, ErrNoItems
}

// MarkCompleted records id as done for this cycle. Marking an id twice is a
// no-op and does not rewrite the state file.
func (s *Scheduler) MarkCompleted(id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", ErrUnknownItem)
	}
	if !s.items.Has(id) {
		return fmt.Errorf("%s: %w", id, ErrUnknownItem)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.marked[id]; ok {
		return nil
	}
	s.marked[id] = struct{}{}
	if err := s.saveLocked(); err != nil {
		delete(s.marked, id)
		return err
	}
	s.logger.Info("deck item marked", "item_id", id, "marked", len(s.marked), "total", s.items.Len())
	return nil
}

// SampleByCategory draws up to count distinct unmarked items of category,
// skipping exclude. The shortfall is count minus the number returned.
func (s *Scheduler) SampleByCategory(category string, count int, exclude map[string]struct{}) ([]catalog.Item, int) {
	if count <= 0 {
		return nil, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var pool []catalog.Item
	for _, it := range s.items.Items() {
		if it.QuestionType != category {
			continue
		}
		if _, done := s.marked[it.ID]; done {
			continue
		}
		if _, skip := exclude[it.ID]; skip {
			continue
		}
		pool = append(pool, it)
	}
	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	if len(pool) > count {
		pool = pool[:count]
	}
	shortfall := count - len(pool)
	if shortfall > 0 {
		s.logger.Warn("category short of unmarked items", "category", category, "requested", count, "found", len(pool))
	}
	return pool, shortfall
}

// Exhausted reports whether every catalog item is marked in this cycle.
func (s *Scheduler) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.items.Len()
	return total > 0 && len(s.marked) >= total
}

// ResetCycle clears the marks and reshuffles the full catalog.
func (s *Scheduler) ResetCycle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = make(map[string]struct{})
	return s.reshuffleLocked(nil)
}

func (s *Scheduler) IsMarked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marked[id]
	return ok
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Total: s.items.Len(), Marked: len(s.marked), Cursor: s.idx, Order: len(s.order)}
}

func (s *Scheduler) reshuffleLocked(exclude map[string]struct{}) error {
	var ids []string
	for _, id := range s.items.IDs() {
		if _, done := s.marked[id]; done {
			continue
		}
		if _, skip := exclude[id]; skip {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 && len(s.marked) >= s.items.Len() {
		s.marked = make(map[string]struct{})
		for _, id := range s.items.IDs() {
			if _, skip := exclude[id]; !skip {
				ids = append(ids, id)
			}
		}
		s.logger.Info("deck cycle complete, starting new cycle", "total", s.items.Len())
	}
	s.shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	s.order = ids
	s.idx = 0
	return s.saveLocked()
}

// shuffle is Fisher–Yates over n elements.
func (s *Scheduler) shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, s.rng.IntN(i+1))
	}
}

func (s *Scheduler) saveLocked() error {
	marked := make([]string, 0, len(s.marked))
	for _, id := range s.items.IDs() {
		if _, ok := s.marked[id]; ok {
			marked = append(marked, id)
		}
	}
	st := State{Order: append([]string(nil), s.order...), Idx: s.idx, Marked: marked}
	if err := atomicfile.WriteJSON(s.path, st); err != nil {
		return fmt.Errorf("save deck state: %w", err)
	}
	return nil
}
