package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternFirstRegisteredMatchWins(t *testing.T) {
	s := NewPatternSet()
	s.Add("error", "on-error")
	s.Add("err", "on-err")

	p, matched := s.Match("connection error")
	require.True(t, matched)
	assert.Equal(t, "error", p.Pattern)
	assert.Equal(t, 1, p.HitCount)

	list := s.List()
	assert.Equal(t, 1, list[0].HitCount)
	assert.Equal(t, 0, list[1].HitCount, "second pattern must not fire for the same record")
}

func TestPatternCaseInsensitive(t *testing.T) {
	s := NewPatternSet()
	s.Add("Timeout", "")

	_, matched := s.Match("request TIMEOUT after 5s")
	assert.True(t, matched)
}

func TestPatternDisabledSkipped(t *testing.T) {
	s := NewPatternSet()
	s.Add("error", "a")
	s.Add("err", "b")
	s.SetEnabled("error", false)

	p, matched := s.Match("connection error")
	require.True(t, matched)
	assert.Equal(t, "err", p.Pattern)
}

func TestPatternNoMatch(t *testing.T) {
	s := NewPatternSet()
	s.Add("panic", "")

	_, matched := s.Match("all good")
	assert.False(t, matched)
}

func TestPatternAddDuplicateReplacesInPlace(t *testing.T) {
	s := NewPatternSet()
	s.Add("error", "old")
	_, _ = s.Match("an error")
	s.Add("error", "new")

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Label)
	assert.Equal(t, 1, list[0].HitCount)
}

func TestPatternRemove(t *testing.T) {
	s := NewPatternSet()
	s.Add("error", "")
	s.Remove("error")
	s.Remove("error") // second removal is a no-op

	_, matched := s.Match("error")
	assert.False(t, matched)
}
