package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMalformed wraps decode and validation failures of oracle files.
var ErrMalformed = errors.New("oracle: malformed input")

// Source yields the inputs of one notification batch.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Activity(ctx context.Context) (*ActivityLog, error)
}

// FileSource reads the oracle's JSON files from disk on every call.
type FileSource struct {
	SnapshotPath string
	ActivityPath string
}

var _ Source = FileSource{}

func (f FileSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	if err := readJSON(ctx, f.SnapshotPath, &s); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", f.SnapshotPath, ErrMalformed, err)
	}
	return &s, nil
}

// Activity returns an error wrapping fs.ErrNotExist when the log is absent,
// so callers can decide whether that means "no changes".
func (f FileSource) Activity(ctx context.Context) (*ActivityLog, error) {
	var l ActivityLog
	if err := readJSON(ctx, f.ActivityPath, &l); err != nil {
		return nil, err
	}
	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", f.ActivityPath, ErrMalformed, err)
	}
	return &l, nil
}

func readJSON(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w: %v", path, ErrMalformed, err)
	}
	return nil
}
