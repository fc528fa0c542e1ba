package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"tablebook/models"
	"tablebook/services/conversation"
	"tablebook/services/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleSweepTask(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	store := conversation.NewMemoryStateStore(time.Hour, func() time.Time { return now })

	state := models.NewConversationState(t0)
	state.Version = 1
	state.Flow = models.FlowConfirmingAction
	state.PendingAction = &models.PendingAction{
		ID: "pa-1", Type: models.ActionCancel,
		Proposal:  models.BookingProposal{TenantID: "t1", BookingRef: "b-1"},
		CreatedAt: t0, ExpiresAt: t0.Add(20 * time.Minute),
	}
	_, err := store.SetCAS(ctx, "t1", "+39000", state, conversation.AbsentVersion)
	require.NoError(t, err)

	now = t0.Add(30 * time.Minute)
	sweeper := conversation.NewSweeper(store, conversation.NewMachine(20*time.Minute, 0.6), nil, 20*time.Minute, 0, zap.NewNop(), func() time.Time { return now })

	task, _, err := tasks.NewSweepTask(now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, handleSweepTask(sweeper, zap.NewNop())(ctx, task))

	got, err := store.Get(ctx, "t1", "+39000")
	require.NoError(t, err)
	assert.Equal(t, models.FlowIdle, got.Flow)
}

func TestHandleSweepTask_BadPayload(t *testing.T) {
	err := handleSweepTask(nil, zap.NewNop())(context.Background(), asynq.NewTask(tasks.TypeConversationSweep, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

type failingSweeper struct{}

func (failingSweeper) SweepOnce(context.Context) (conversation.SweepStats, error) {
	return conversation.SweepStats{}, errors.New("redis down")
}

func TestHandleSweepTask_PropagatesFailure(t *testing.T) {
	task, _, err := tasks.NewSweepTask(time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Error(t, handleSweepTask(failingSweeper{}, zap.NewNop())(context.Background(), task))
}
