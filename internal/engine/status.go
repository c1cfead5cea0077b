package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// Status is the subscribable status stream backing the logs panel: a
// bounded buffer of recent entries plus fan-out to subscribers. Writers
// never block; slow subscribers miss entries rather than stalling merges.
type Status struct {
	mu       sync.Mutex
	entries  []domain.StatusEntry
	max      int
	subs     []chan domain.StatusEntry
	pending  int
	notice   string
	noticeAt time.Time
	now      func() time.Time
}

// noticeTTL bounds how long a transient notice stays on the status bar.
const noticeTTL = 5 * time.Second

// NewStatus creates a status buffer retaining up to max entries.
func NewStatus(max int) *Status {
	if max <= 0 {
		max = 200
	}
	return &Status{max: max, now: time.Now}
}

// Append records one entry.
func (s *Status) Append(level, format string, args ...any) {
	e := domain.StatusEntry{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	subs := s.subs
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n entries, oldest first.
func (s *Status) Recent(n int) []domain.StatusEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]domain.StatusEntry, n)
	copy(out, s.entries[len(s.entries)-n:])
	return out
}

// Subscribe returns a channel of future entries, closed when ctx ends.
func (s *Status) Subscribe(ctx context.Context) <-chan domain.StatusEntry {
	ch := make(chan domain.StatusEntry, 64)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, have := range s.subs {
			if have == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch
}

// SetPending tracks the number of outstanding user-initiated requests.
func (s *Status) SetPending(delta int) {
	s.mu.Lock()
	s.pending += delta
	if s.pending < 0 {
		s.pending = 0
	}
	s.mu.Unlock()
}

// Pending returns the outstanding request count.
func (s *Status) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// SetNotice installs the one-line transient UI notice.
func (s *Status) SetNotice(format string, args ...any) {
	s.mu.Lock()
	s.notice = fmt.Sprintf(format, args...)
	s.noticeAt = s.now()
	s.mu.Unlock()
}

// TakeNotice returns the active notice. Notices expire after noticeTTL so a
// stale message never sits on the status bar waiting for the next one.
func (s *Status) TakeNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice != "" && s.now().Sub(s.noticeAt) > noticeTTL {
		s.notice = ""
	}
	return s.notice
}

// ClearNotice drops the transient notice.
func (s *Status) ClearNotice() {
	s.mu.Lock()
	s.notice = ""
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------

// LogHandler is a slog.Handler that mirrors records into the status buffer
// so engine logs surface in the logs panel while the TUI owns the terminal.
type LogHandler struct {
	status *Status
	level  slog.Level
	attrs  []slog.Attr
}

// NewLogHandler creates a handler at the given level.
func NewLogHandler(status *Status, level slog.Level) *LogHandler {
	return &LogHandler{status: status, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	for _, a := range h.attrs {
		msg += " " + a.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.String()
		return true
	})
	h.status.Append(r.Level.String(), "%s", msg)
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &out
}

func (h *LogHandler) WithGroup(string) slog.Handler { return h }
