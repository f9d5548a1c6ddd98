// progress.go: Progress reporting for key exchanges
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package quackd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// ExchangeCheckpoints is the number of Advance calls made by a successful
// exchange.
const ExchangeCheckpoints = 6

// ProgressSink receives progress from an exchange: a position counter that
// only moves forward and timestamped log lines.
type ProgressSink interface {
	Advance()
	Log(msg string)
}

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Advance()   {}
func (NopProgress) Log(string) {}

// ProgressState is a point-in-time view of a ProgressBar.
type ProgressState struct {
	Pos   int
	Total int
	Lines []string
}

// Percent returns the completed fraction as a percentage.
func (s ProgressState) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Pos) / float64(s.Total) * 100
}

// Bar draws a twenty-cell bar and the percentage.
func (s ProgressState) Bar() string {
	pct := s.Percent()
	return fmt.Sprintf("%s %.2f%%", strings.Repeat("█", int(pct/5+0.5)), pct)
}

// Render draws the bar followed by the log lines, one per line.
func (s ProgressState) Render() string {
	var sb strings.Builder
	sb.WriteString(s.Bar())
	for _, l := range s.Lines {
		sb.WriteByte('\n')
		sb.WriteString(l)
	}
	return sb.String()
}

// ProgressBar is a ProgressSink that keeps its own state and notifies
// OnUpdate after every change. It is safe for concurrent use.
type ProgressBar struct {
	mu    sync.Mutex
	pos   int
	total int
	lines []string

	// OnUpdate, if set, is called with the new state. It runs with the bar
	// unlocked.
	OnUpdate func(ProgressState)
	now      func() time.Time
}

// NewProgressBar creates a bar expecting total advances.
func NewProgressBar(total int) *ProgressBar {
	return &ProgressBar{
		total: total,
		now:   timecache.CachedTime,
	}
}

// Advance moves the bar one step, never past its total.
func (b *ProgressBar) Advance() {
	b.mu.Lock()
	if b.pos < b.total {
		b.pos++
	}
	state := b.stateLocked()
	b.mu.Unlock()
	b.notify(state)
}

// Log appends "HH:MM:SS - [msg]".
func (b *ProgressBar) Log(msg string) {
	b.mu.Lock()
	b.lines = append(b.lines, fmt.Sprintf("%s - [%s]", b.now().Format(time.TimeOnly), msg))
	state := b.stateLocked()
	b.mu.Unlock()
	b.notify(state)
}

// State returns a copy of the current state.
func (b *ProgressBar) State() ProgressState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *ProgressBar) stateLocked() ProgressState {
	lines := make([]string, len(b.lines))
	copy(lines, b.lines)
	return ProgressState{Pos: b.pos, Total: b.total, Lines: lines}
}

func (b *ProgressBar) notify(state ProgressState) {
	if b.OnUpdate != nil {
		b.OnUpdate(state)
	}
}
