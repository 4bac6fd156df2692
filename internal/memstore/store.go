// Package memstore persists visitor memory profiles.
//
// A small JSON file keeps the store inspectable and portable between the
// kiosk and the caregiver's machine; profile counts are tens, not millions.
package memstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hearthside/keepsake/internal/errors"
)

// Visit is one summarized conversation in a person's history.
type Visit struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

// Person is a visitor profile.
type Person struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Relationship string  `json:"relationship"`
	VisitCount   int     `json:"visit_count"`
	LastVisit    string  `json:"last_visit,omitempty"` // ISO date
	LastSummary  string  `json:"last_summary"`
	History      []Visit `json:"history,omitempty"`
}

// Store is a mutex-guarded JSON-file store of person profiles.
type Store struct {
	path       string
	maxHistory int

	mu     sync.RWMutex
	people map[string]*Person
}

// Open loads the store from path, tolerating a missing or corrupt file.
func Open(path string) (*Store, error) {
	s := &Store{
		path:       path,
		maxHistory: 50,
		people:     make(map[string]*Person),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "reading memory store")
	}
	if err := json.Unmarshal(data, &s.people); err != nil {
		// A corrupt store must not take the whole app down; start fresh and
		// keep the broken file aside for inspection.
		slog.Error("memory store corrupt, starting empty", "path", path, "error", err)
		_ = os.Rename(path, path+".corrupt")
		s.people = make(map[string]*Person)
	}
	return s, nil
}

// EnsurePerson creates a profile if absent, filling in missing basics only.
func (s *Store) EnsurePerson(id, name, relationship string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.people[id]
	if !ok {
		p = &Person{ID: id, Name: name, Relationship: relationship}
		s.people[id] = p
	} else {
		if p.Name == "" {
			p.Name = name
		}
		if p.Relationship == "" {
			p.Relationship = relationship
		}
	}
	return s.persistLocked()
}

// GetPerson returns a copy of the profile, or false if unknown.
func (s *Store) GetPerson(id string) (Person, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.people[id]
	if !ok {
		return Person{}, false
	}
	return clone(p), true
}

// GetLastSummary returns the most recent summary for a person, empty if none.
func (s *Store) GetLastSummary(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.people[id]; ok {
		return p.LastSummary
	}
	return ""
}

// UpsertSummary records a visit: bumps the visit count, sets the last visit
// date, replaces the last summary, and appends to history. Unknown ids get a
// minimal profile so a recognition/registration race never drops a memory.
func (s *Store) UpsertSummary(id, summary string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.people[id]
	if !ok {
		p = &Person{ID: id, Name: id}
		s.people[id] = p
	}

	p.VisitCount++
	p.LastVisit = ts.UTC().Format("2006-01-02")
	if summary != "" {
		p.LastSummary = summary
		p.History = append(p.History, Visit{Timestamp: ts.UTC(), Summary: summary})
		if len(p.History) > s.maxHistory {
			p.History = p.History[len(p.History)-s.maxHistory:]
		}
	}
	return s.persistLocked()
}

// ListPeople returns all profiles sorted by id.
func (s *Store) ListPeople() []Person {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Person, 0, len(s.people))
	for _, p := range s.people {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// persistLocked writes the store atomically (temp file + rename).
func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "creating store directory")
	}

	data, err := json.MarshalIndent(s.people, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "encoding memory store")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "writing memory store")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "replacing memory store")
	}
	return nil
}

func clone(p *Person) Person {
	out := *p
	out.History = append([]Visit(nil), p.History...)
	return out
}
