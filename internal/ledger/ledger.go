// Package ledger keeps the persisted identity and item sets that outlive a
// single session: identities that already took part and items completed.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/antoniostano/dyadchat/internal/atomicfile"
)

// Format selects the on-disk shape of a Set.
type Format int

const (
	// FormatFlags stores {"id": true, ...}.
	FormatFlags Format = iota
	// FormatList stores {"completed": ["id", ...]} sorted.
	FormatList
)

type listFile struct {
	Completed []string `json:"completed"`
}

// Set is a grow-only string set persisted on every change.
type Set struct {
	mu      sync.RWMutex
	path    string
	format  Format
	members map[string]struct{}
}

// Open loads the set at path. A missing file yields an empty set.
func Open(path string, format Format) (*Set, error) {
	s := &Set{path: path, format: format, members: make(map[string]struct{})}

	var ids []string
	var err error
	switch format {
	case FormatList:
		var f listFile
		err = atomicfile.ReadJSON(path, &f)
		ids = f.Completed
	default:
		var f map[string]bool
		err = atomicfile.ReadJSON(path, &f)
		for id, ok := range f {
			if ok {
				ids = append(ids, id)
			}
		}
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	for _, id := range ids {
		if id != "" {
			s.members[id] = struct{}{}
		}
	}
	return s, nil
}

// Add inserts id and persists. It reports whether id was new. Re-adding an
// existing id leaves the file untouched.
func (s *Set) Add(id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; ok {
		return false, nil
	}
	s.members[id] = struct{}{}
	if err := s.saveLocked(); err != nil {
		delete(s.members, id)
		return false, err
	}
	return true, nil
}

func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Members returns the ids sorted.
func (s *Set) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Set) sortedLocked() []string {
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Set) saveLocked() error {
	var err error
	switch s.format {
	case FormatList:
		err = atomicfile.WriteJSON(s.path, listFile{Completed: s.sortedLocked()})
	default:
		flags := make(map[string]bool, len(s.members))
		for id := range s.members {
			flags[id] = true
		}
		err = atomicfile.WriteJSON(s.path, flags)
	}
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}
