// Package feedback keeps an append-only journal of player reward
// evaluations. Each evaluation is one JSON line, so the file can be tailed,
// grepped or loaded into a notebook to tune scorer weights offline.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/reward"
)

// Compile-time interface check.
var _ reward.Journal = (*FileStore)(nil)

// Record is a single journal line.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	PreviousAction   string    `json:"previous_action,omitempty"`
	Text             string    `json:"text"`
	Continued        bool      `json:"conversation_continued"`
	Reward           float64   `json:"reward"`
	Sentiment        float64   `json:"sentiment"`
	Confidence       float64   `json:"confidence"`
	ExplicitNegative bool      `json:"explicit_negative,omitempty"`
	Triggers         []string  `json:"triggers,omitempty"`
}

// FileStore appends records to a JSON lines file.
// Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore that writes to path. The file and its
// directory are created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the journal file path.
func (fs *FileStore) Path() string { return fs.path }

// Save appends e to the journal.
func (fs *FileStore) Save(ctx context.Context, e reward.Entry) error {
	rec := Record{
		Timestamp:        fs.now().UTC(),
		PreviousAction:   e.PreviousAction,
		Text:             e.Text,
		Continued:        e.Continued,
		Reward:           e.Outcome.Reward,
		Sentiment:        e.Outcome.Sentiment.Sentiment,
		Confidence:       e.Outcome.Sentiment.Confidence,
		ExplicitNegative: e.Outcome.Sentiment.ExplicitNegative,
		Triggers:         e.Outcome.Sentiment.Triggers,
	}
	return fs.Append(ctx, rec)
}

// Append writes rec as one line. A zero timestamp is stamped with the
// current time.
func (fs *FileStore) Append(_ context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = fs.now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("feedback: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}
