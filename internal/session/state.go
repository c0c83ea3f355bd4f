package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"datachat/internal/models"
)

// ErrNotFound is returned by stores for an unknown or expired session.
var ErrNotFound = errors.New("session not found")

// Transcript is the ordered, append-only chat history of one session.
type Transcript struct {
	entries []models.Entry
}

// Append adds e at the end.
func (t *Transcript) Append(e models.Entry) {
	t.entries = append(t.entries, e)
}

// All returns a copy of the entries in insertion order.
func (t *Transcript) All() []models.Entry {
	out := make([]models.Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int { return len(t.entries) }

// State is everything kept between interactions of one browser session.
// It never holds the API key.
type State struct {
	ID               string
	Transcript       Transcript
	ShowSummary      bool
	ShowCorrelations bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// New returns an empty state for id.
func New(id string, now time.Time) *State {
	return &State{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a deep copy so a rendered state can be discarded without
// touching the stored one.
func (s *State) Clone() *State {
	c := *s
	c.Transcript = Transcript{entries: s.Transcript.All()}
	return &c
}

// Touch marks the state as used at now.
func (s *State) Touch(now time.Time) {
	s.UpdatedAt = now
}

// record is the serialized form shared by the SQL and redis stores.
type record struct {
	ID               string         `json:"id"`
	Entries          []models.Entry `json:"entries"`
	ShowSummary      bool           `json:"show_summary"`
	ShowCorrelations bool           `json:"show_correlations"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Marshal encodes s for stores that keep bytes.
func Marshal(s *State) ([]byte, error) {
	return json.Marshal(toRecord(s))
}

// Unmarshal decodes bytes written by Marshal.
func Unmarshal(data []byte) (*State, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return fromRecord(r), nil
}

func toRecord(s *State) record {
	return record{
		ID:               s.ID,
		Entries:          s.Transcript.All(),
		ShowSummary:      s.ShowSummary,
		ShowCorrelations: s.ShowCorrelations,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func fromRecord(r record) *State {
	return &State{
		ID:               r.ID,
		Transcript:       Transcript{entries: r.Entries},
		ShowSummary:      r.ShowSummary,
		ShowCorrelations: r.ShowCorrelations,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
