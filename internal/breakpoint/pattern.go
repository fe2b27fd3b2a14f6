package breakpoint

import (
	"strings"
	"sync"
)

// Pattern is a conditional breakpoint matched against log output instead
// of a source location.
type Pattern struct {
	Pattern  string `json:"pattern"`
	Label    string `json:"label,omitempty"`
	Enabled  bool   `json:"enabled"`
	HitCount int    `json:"hitCount"`
}

// PatternSet holds conditional breakpoints in registration order.
// Matching is case-insensitive substring; a log record fires at most the
// first registered match, so overlapping patterns stay deterministic.
type PatternSet struct {
	mu       sync.Mutex
	patterns []*Pattern
}

func NewPatternSet() *PatternSet { return &PatternSet{} }

// Add registers a pattern. A duplicate pattern string replaces the
// existing entry in place, keeping its position and hit count.
func (s *PatternSet) Add(pattern, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patterns {
		if p.Pattern == pattern {
			p.Label = label
			p.Enabled = true
			return
		}
	}
	s.patterns = append(s.patterns, &Pattern{Pattern: pattern, Label: label, Enabled: true})
}

// Remove drops a pattern; removing an unknown pattern is a no-op.
func (s *PatternSet) Remove(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.patterns {
		if p.Pattern == pattern {
			s.patterns = append(s.patterns[:i], s.patterns[i+1:]...)
			return
		}
	}
}

// SetEnabled flips a pattern without losing its hit count.
func (s *PatternSet) SetEnabled(pattern string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patterns {
		if p.Pattern == pattern {
			p.Enabled = enabled
			return
		}
	}
}

// List returns a snapshot in registration order.
func (s *PatternSet) List() []Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pattern, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = *p
	}
	return out
}

// Match tests a log message against the set. Only the first registered
// enabled match fires; its hit count is incremented and a copy returned.
func (s *PatternSet) Match(message string) (Pattern, bool) {
	lower := strings.ToLower(message)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patterns {
		if !p.Enabled {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p.Pattern)) {
			p.HitCount++
			return *p, true
		}
	}
	return Pattern{}, false
}
