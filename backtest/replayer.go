package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"screener_go/internal/engine"
	"screener_go/internal/screener"
	"screener_go/internal/storage"
)

// Replayer reads recorded sessions from the frame journal and feeds them
// into a sequencer, the same code path the live daemon uses.
type Replayer struct {
	journal *storage.FrameJournal
}

// NewReplayer opens the journal at dbPath.
func NewReplayer(dbPath string) (*Replayer, error) {
	j, err := storage.OpenJournal(dbPath)
	if err != nil {
		return nil, err
	}
	return &Replayer{journal: j}, nil
}

// Sessions lists the recorded sessions, newest first.
func (r *Replayer) Sessions(ctx context.Context) ([]storage.SessionInfo, error) {
	return r.journal.Sessions(ctx)
}

// Latest returns the newest session id.
func (r *Replayer) Latest(ctx context.Context) (string, error) {
	sessions, err := r.journal.Sessions(ctx)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("journal has no sessions")
	}
	return sessions[0].ID, nil
}

// RunReplay replays one session into seq and returns the number of events read.
func (r *Replayer) RunReplay(ctx context.Context, session string, seq *engine.Sequencer) (int, error) {
	events, err := r.journal.Load(ctx, session)
	if err != nil {
		return 0, fmt.Errorf("failed to load session %s: %w", session, err)
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		// Synchronous for deterministic replay.
		seq.ReplayEvent(ev)
	}

	slog.Info("Replay finished", slog.String("session", session), slog.Int("events", len(events)), slog.Any("stats", seq.Stats()))
	return len(events), nil
}

// Rebuild replays session into a fresh store. Candle events are skipped
// since no chart is attached.
func (r *Replayer) Rebuild(ctx context.Context, session string) (*screener.Store, error) {
	store := screener.NewStore()
	seq := engine.NewSequencer(1, store, nil, nil)
	if _, err := r.RunReplay(ctx, session, seq); err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes the journal.
func (r *Replayer) Close() error {
	return r.journal.Close()
}
