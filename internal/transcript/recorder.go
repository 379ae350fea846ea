package transcript

import (
	"context"
	"log/slog"
	"time"

	"github.com/antoniostano/dyadchat/internal/reliability"
	"github.com/antoniostano/dyadchat/internal/session"
)

// DefaultRetry retries transient store failures briefly. Appends are
// idempotent per (room, question).
var DefaultRetry = reliability.Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: 400 * time.Millisecond}

// Recorder writes the transcript of a completed session to a Store.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	retry  reliability.Policy
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now, retry: DefaultRetry}
}

func (r *Recorder) RecordSession(ctx context.Context, s *session.Session) error {
	records := Build(s, r.now())
	if len(records) == 0 {
		r.logger.Info("session has no persistable questions", "room_id", s.ID)
		return nil
	}
	err := reliability.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.store.Append(ctx, records)
	})
	if err != nil {
		r.logger.Error("transcript append failed", "room_id", s.ID, "records", len(records), "error", err)
		return err
	}
	r.logger.Info("transcript recorded", "room_id", s.ID, "records", len(records))
	return nil
}
