package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(zap.NewNop(), time.Second)
	err := s.Add("backfill", "not a schedule", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestSchedulerEmptySpecDisables(t *testing.T) {
	s := NewScheduler(zap.NewNop(), time.Second)
	require.NoError(t, s.Add("backfill", "", func(context.Context) error { return nil }))
	assert.Empty(t, s.cron.Entries())
}

func TestSchedulePasses(t *testing.T) {
	e := newTestEngine(t, nil)
	s := NewScheduler(zap.NewNop(), time.Second)
	require.NoError(t, e.SchedulePasses(s, "@every 1h", "@every 6h"))
	assert.Len(t, s.cron.Entries(), 2)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err(), "stop returns once idle")
}
