// progress_test.go: Test cases for progress reporting.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBar_AdvanceAndCap(t *testing.T) {
	bar := NewProgressBar(3)
	var updates []ProgressState
	bar.OnUpdate = func(s ProgressState) { updates = append(updates, s) }

	for i := 0; i < 5; i++ {
		bar.Advance()
	}
	state := bar.State()
	assert.Equal(t, 3, state.Pos)
	assert.Equal(t, 3, state.Total)
	assert.InDelta(t, 100, state.Percent(), 1e-9)
	require.Len(t, updates, 5)
	assert.Equal(t, 1, updates[0].Pos)
}

func TestProgressBar_LogFormat(t *testing.T) {
	bar := NewProgressBar(ExchangeCheckpoints)
	bar.now = func() time.Time { return time.Date(2025, 1, 1, 9, 5, 7, 0, time.UTC) }

	bar.Log("Sifted 12 of 30 bits")
	state := bar.State()
	require.Len(t, state.Lines, 1)
	assert.Equal(t, "09:05:07 - [Sifted 12 of 30 bits]", state.Lines[0])

	state.Lines[0] = "changed"
	assert.Equal(t, "09:05:07 - [Sifted 12 of 30 bits]", bar.State().Lines[0], "State returns a copy")
}

func TestProgressBar_DefaultClock(t *testing.T) {
	bar := NewProgressBar(1)
	bar.Log("hello")
	assert.Regexp(t, regexp.MustCompile(`^\d{2}:\d{2}:\d{2} - \[hello\]$`), bar.State().Lines[0])
}

func TestProgressState_Render(t *testing.T) {
	s := ProgressState{Pos: 3, Total: 6, Lines: []string{"a", "b"}}
	out := s.Render()
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Repeat("█", 10)+" 50.00%", lines[0])
	assert.Equal(t, "b", lines[2])

	assert.Equal(t, lines[0], s.Bar())
	assert.Zero(t, ProgressState{}.Percent())
}

func TestProgressBar_Concurrent(t *testing.T) {
	bar := NewProgressBar(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bar.Advance()
			bar.Log("step")
		}()
	}
	wg.Wait()
	state := bar.State()
	assert.Equal(t, 100, state.Pos)
	assert.Len(t, state.Lines, 100)
}

func TestNopProgress(t *testing.T) {
	var sink ProgressSink = NopProgress{}
	sink.Advance()
	sink.Log("ignored")
}
