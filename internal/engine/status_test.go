package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusSubscribe(t *testing.T) {
	st := NewStatus(10)
	ctx, cancel := context.WithCancel(context.Background())
	ch := st.Subscribe(ctx)

	st.Append("INFO", "first")

	select {
	case e := <-ch:
		assert.Equal(t, "first", e.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the entry")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "channel closes when the subscriber context ends")
}

func TestNoticeExpires(t *testing.T) {
	st := NewStatus(10)
	base := time.Now()
	st.now = func() time.Time { return base }

	st.SetNotice("snapshot saved")
	assert.Equal(t, "snapshot saved", st.TakeNotice())

	base = base.Add(noticeTTL + time.Second)
	assert.Empty(t, st.TakeNotice(), "notices expire instead of lingering on the status bar")
	assert.Empty(t, st.TakeNotice())

	// A fresh notice restarts the clock.
	st.SetNotice("reconnected")
	assert.Equal(t, "reconnected", st.TakeNotice())
}

func TestLogHandlerMirrorsRecords(t *testing.T) {
	st := NewStatus(10)
	logger := slog.New(NewLogHandler(st, slog.LevelInfo))

	logger.Debug("below threshold")
	logger.Info("merge applied", slog.String("event_id", "e1"))
	logger.With(slog.String("component", "mux")).Warn("reconnecting")

	recent := st.Recent(0)
	require.Len(t, recent, 2)

	assert.Equal(t, "INFO", recent[0].Level)
	assert.Contains(t, recent[0].Message, "merge applied")
	assert.Contains(t, recent[0].Message, "event_id=e1")

	assert.Equal(t, "WARN", recent[1].Level)
	assert.Contains(t, recent[1].Message, "component=mux")
	assert.Contains(t, recent[1].Message, "reconnecting")
}
