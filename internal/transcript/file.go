package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore appends records as newline-delimited JSON. A batch is written
// with a single write and synced before Append returns; a torn trailing
// line left by a crash is skipped on read.
type FileStore struct {
	mu   sync.Mutex
	path string
	seen map[string]struct{}
}

func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}
	s := &FileStore{path: path, seen: make(map[string]struct{})}
	existing, err := s.readAll()
	if err != nil {
		return nil, err
	}
	for _, r := range existing {
		s.seen[recordKey(r)] = struct{}{}
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	keys := make([]string, 0, len(records))
	for _, r := range records {
		key := recordKey(r)
		if _, dup := s.seen[key]; dup {
			continue
		}
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode transcript %s: %w", key, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		keys = append(keys, key)
	}
	if buf.Len() == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	if err := ensureLineStart(f); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append transcript: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	for _, key := range keys {
		s.seen[key] = struct{}{}
	}
	return nil
}

func (s *FileStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return tail(records, limit), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readAll() ([]Record, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript file: %w", err)
	}
	return out, nil
}

// ensureLineStart terminates a torn trailing line so the next record
// starts on its own line.
func ensureLineStart(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat transcript file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	r, err := os.Open(f.Name())
	if err != nil {
		return fmt.Errorf("inspect transcript file: %w", err)
	}
	last := make([]byte, 1)
	_, err = r.ReadAt(last, info.Size()-1)
	_ = r.Close()
	if err != nil {
		return fmt.Errorf("inspect transcript file: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("repair transcript file: %w", err)
	}
	return nil
}

func recordKey(r Record) string {
	return r.RoomID + "/" + strconv.Itoa(r.QuestionIndex)
}
