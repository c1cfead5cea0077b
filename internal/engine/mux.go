package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// ConnState is the connection lifecycle state of one streaming source.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateLive
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Backoff is the reconnect delay policy: base delay doubling per attempt,
// capped, with proportional jitter applied on top.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction, e.g. 0.2 for ±20%
}

// Delay returns the unjittered delay for the given attempt (0-based). The
// schedule strictly increases until it reaches Max, then stays there.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Jittered applies ±Jitter to d.
func (b Backoff) Jittered(d time.Duration) time.Duration {
	if b.Jitter <= 0 {
		return d
	}
	f := 1 + b.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}

// MuxConfig tunes the stream multiplexer.
type MuxConfig struct {
	Backoff Backoff
	// GracePeriod delays connection teardown after the last key for a
	// source is unsubscribed, absorbing rapid re-subscribe during tab
	// switches.
	GracePeriod time.Duration
	// MalformedLimit forces a reconnect after this many consecutive
	// undecodable frames on one source.
	MalformedLimit int
	DialTimeout    time.Duration
	FeedBuffer     int
}

type sourceState struct {
	dialer  domain.StreamDialer
	state   ConnState
	desired map[string]struct{}
	conn    domain.StreamConn
	seq     uint64
	lastErr error
	// kick wakes the source loop after a subscription change.
	kick chan struct{}
}

// Mux owns the lifecycle of the streaming connections: at most one live
// connection per source, a desired-subscription set per source that is the
// source of truth resent in full on every (re)connect, exponential backoff
// with jitter on failures, and a unified ordered feed of typed events.
//
// Within one source, events are forwarded in receipt order; no cross-source
// ordering is guaranteed.
type Mux struct {
	cfg    MuxConfig
	logger *slog.Logger

	feed chan domain.StreamEvent

	mu      sync.Mutex
	sources map[domain.StreamSource]*sourceState
}

// NewMux creates a Mux over the given dialers, one per source.
func NewMux(dialers []domain.StreamDialer, cfg MuxConfig, logger *slog.Logger) *Mux {
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = 256
	}
	if cfg.MalformedLimit <= 0 {
		cfg.MalformedLimit = 10
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	m := &Mux{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "mux")),
		feed:    make(chan domain.StreamEvent, cfg.FeedBuffer),
		sources: make(map[domain.StreamSource]*sourceState),
	}
	for _, d := range dialers {
		m.sources[d.Source()] = &sourceState{
			dialer:  d,
			desired: make(map[string]struct{}),
			kick:    make(chan struct{}, 1),
		}
	}
	return m
}

// Feed returns the unified event feed consumed by the merger pump.
func (m *Mux) Feed() <-chan domain.StreamEvent { return m.feed }

// Subscribe adds a key to a source's desired set. Idempotent: adding a key
// already subscribed is a no-op. The wire effect is applied immediately
// when the connection is live, otherwise on the next connect cycle.
func (m *Mux) Subscribe(source domain.StreamSource, key string) {
	m.mu.Lock()
	src, ok := m.sources[source]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, have := src.desired[key]; have {
		m.mu.Unlock()
		return
	}
	src.desired[key] = struct{}{}
	m.mu.Unlock()
	m.kickSource(src)
}

// Unsubscribe removes a key from a source's desired set. Removing an
// unknown key is a no-op. Removing the last key tears the connection down
// only after the grace period.
func (m *Mux) Unsubscribe(source domain.StreamSource, key string) {
	m.mu.Lock()
	src, ok := m.sources[source]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, have := src.desired[key]; !have {
		m.mu.Unlock()
		return
	}
	delete(src.desired, key)
	m.mu.Unlock()
	m.kickSource(src)
}

// Subscribed reports whether a key is currently desired.
func (m *Mux) Subscribed(source domain.StreamSource, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[source]
	if !ok {
		return false
	}
	_, have := src.desired[key]
	return have
}

// States returns a status row per source for the logs panel.
func (m *Mux) States() []domain.ConnStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ConnStatus, 0, len(m.sources))
	for source, src := range m.sources {
		st := domain.ConnStatus{
			Source: source,
			State:  src.state.String(),
			Subs:   len(src.desired),
		}
		if src.lastErr != nil {
			st.LastError = src.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Run drives all source loops until ctx is done.
func (m *Mux) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	m.mu.Lock()
	for source, src := range m.sources {
		wg.Add(1)
		go func(source domain.StreamSource, src *sourceState) {
			defer wg.Done()
			m.runSource(ctx, source, src)
		}(source, src)
	}
	m.mu.Unlock()
	wg.Wait()
	return ctx.Err()
}

func (m *Mux) kickSource(src *sourceState) {
	select {
	case src.kick <- struct{}{}:
	default:
	}
}

func (m *Mux) setState(src *sourceState, s ConnState) {
	m.mu.Lock()
	src.state = s
	m.mu.Unlock()
}

func (m *Mux) desiredKeys(src *sourceState) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(src.desired))
	for k := range src.desired {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// runSource is the per-source connection state machine.
func (m *Mux) runSource(ctx context.Context, source domain.StreamSource, src *sourceState) {
	attempt := 0
	wasLive := false

	for {
		if ctx.Err() != nil {
			return
		}

		keys := m.desiredKeys(src)
		if len(keys) == 0 {
			m.setState(src, StateIdle)
			attempt = 0
			wasLive = false
			select {
			case <-ctx.Done():
				return
			case <-src.kick:
				continue
			}
		}

		if attempt == 0 && !wasLive {
			m.setState(src, StateConnecting)
		} else {
			m.setState(src, StateReconnecting)
		}

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := src.dialer.Dial(dialCtx)
		cancel()
		if err == nil {
			err = conn.SetSubscriptions(ctx, m.desiredKeys(src))
			if err != nil {
				_ = conn.Close()
			}
		}
		if err != nil {
			m.mu.Lock()
			src.lastErr = err
			m.mu.Unlock()
			delay := m.cfg.Backoff.Jittered(m.cfg.Backoff.Delay(attempt))
			m.logger.Warn("stream connect failed",
				slog.String("source", string(source)),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		m.mu.Lock()
		src.conn = conn
		src.state = StateLive
		src.lastErr = nil
		m.mu.Unlock()

		if wasLive || attempt > 0 {
			m.emit(ctx, src, domain.StreamEvent{Source: source, Kind: domain.KindConnectionRestored})
		}
		attempt = 0
		wasLive = true

		lost := m.pump(ctx, source, src, conn)
		m.mu.Lock()
		src.conn = nil
		m.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if lost {
			m.emit(ctx, src, domain.StreamEvent{Source: source, Kind: domain.KindConnectionLost, Err: src.lastErr})
		}
	}
}

// pump forwards events from one live connection into the unified feed until
// the connection dies, the desired set empties past its grace period, or
// ctx is done. It reports whether the connection was lost (as opposed to
// torn down deliberately).
func (m *Mux) pump(ctx context.Context, source domain.StreamSource, src *sourceState, conn domain.StreamConn) bool {
	malformed := 0
	wired := m.desiredKeys(src)

	var grace *time.Timer
	var graceC <-chan time.Time
	stopGrace := func() {
		if grace != nil {
			grace.Stop()
			grace, graceC = nil, nil
		}
	}
	defer stopGrace()

	for {
		select {
		case <-ctx.Done():
			return false

		case <-src.kick:
			keys := m.desiredKeys(src)
			if len(keys) == 0 {
				if grace == nil {
					grace = time.NewTimer(m.cfg.GracePeriod)
					graceC = grace.C
				}
				continue
			}
			stopGrace()
			if !equalKeys(keys, wired) {
				if err := conn.SetSubscriptions(ctx, keys); err != nil {
					// Force a reconnect cycle; the full set is resent on
					// success, so the change is never silently dropped.
					m.mu.Lock()
					src.lastErr = err
					m.mu.Unlock()
					return true
				}
				wired = keys
			}

		case <-graceC:
			if len(m.desiredKeys(src)) == 0 {
				m.logger.Info("stream torn down after grace period",
					slog.String("source", string(source)))
				return false
			}
			stopGrace()

		case ev, ok := <-conn.Events():
			if !ok {
				m.mu.Lock()
				src.lastErr = domain.ErrWSDisconnect
				m.mu.Unlock()
				return true
			}
			if ev.Kind == domain.KindMalformed {
				malformed++
				m.logger.Debug("dropped malformed frame",
					slog.String("source", string(source)),
					slog.Int("consecutive", malformed),
				)
				if malformed >= m.cfg.MalformedLimit {
					m.mu.Lock()
					src.lastErr = domain.ErrMalformed
					m.mu.Unlock()
					return true
				}
				continue
			}
			malformed = 0
			m.emit(ctx, src, ev)
		}
	}
}

// emit tags the event with source-local sequence and pushes it onto the
// feed, blocking if the consumer lags.
func (m *Mux) emit(ctx context.Context, src *sourceState, ev domain.StreamEvent) {
	m.mu.Lock()
	src.seq++
	ev.Seq = src.seq
	if ev.Source == "" {
		ev.Source = src.dialer.Source()
	}
	m.mu.Unlock()
	select {
	case m.feed <- ev:
	case <-ctx.Done():
	}
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
