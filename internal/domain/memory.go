package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StampLayout is the minute-resolution timestamp format used for memory notes.
const StampLayout = "2006-01-02 15:04"

// MemoryStore persists short user-authored notes that are folded into project context.
// Ids are assigned from a persisted counter and never reused.
type MemoryStore interface {
	Add(ctx context.Context, content, author string) (int, error)
	All(ctx context.Context) ([]MemoryEntry, error)
	// Get returns nil, nil when the id does not exist.
	Get(ctx context.Context, id int) (*MemoryEntry, error)
	Update(ctx context.Context, id int, content string) (bool, error)
	Delete(ctx context.Context, id int) (bool, error)
	Close() error
}

type MemoryEntry struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Author  string `json:"author"`
	Created Stamp  `json:"created"`
	Updated *Stamp `json:"updated"`
}

// Stamp is a time.Time serialized as "YYYY-MM-DD HH:MM".
type Stamp struct {
	time.Time
}

func NewStamp(t time.Time) Stamp {
	return Stamp{Time: t.Truncate(time.Minute)}
}

func (s Stamp) String() string {
	return s.Format(StampLayout)
}

func (s Stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := time.ParseInLocation(StampLayout, raw, time.Local)
	if err != nil {
		return fmt.Errorf("parse stamp %q: %w", raw, err)
	}
	s.Time = t
	return nil
}
