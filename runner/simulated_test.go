package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sanchay-T/influencer-platform/model"
	"github.com/Sanchay-T/influencer-platform/store"
)

func seedSimJob(t *testing.T, st store.JobStore, target int) *model.SearchJob {
	t.Helper()
	now := time.Now()
	job := &model.SearchJob{
		ID:            "job-1",
		Status:        model.JobStatusPending,
		Platform:      model.PlatformTikTok,
		TargetResults: target,
		TimeoutAt:     now.Add(10 * time.Minute),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func TestSimulatedRunnerPacesToTarget(t *testing.T) {
	st := store.NewMemoryStore()
	seedSimJob(t, st, 25)
	r := NewSimulatedRunner(st, 10)

	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, res.Status)
	assert.True(t, res.HasMore)
	require.Len(t, res.Creators, 10)
	assert.Equal(t, "tiktok_creator_0000", res.Creators[0].Handle)
	assert.Equal(t, 1, res.Metrics.ProviderCalls)

	require.NoError(t, st.AppendResults(context.Background(), "job-1", res.Creators))

	// Second chunk picks up at the stored offset.
	res, err = r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "tiktok_creator_0010", res.Creators[0].Handle)
	require.NoError(t, st.AppendResults(context.Background(), "job-1", res.Creators))

	// Final chunk trims to the remaining 5 and reports completion.
	res, err = r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.False(t, res.HasMore)
	require.Len(t, res.Creators, 5)
}

func TestSimulatedRunnerIsRepeatableAtSameOffset(t *testing.T) {
	st := store.NewMemoryStore()
	seedSimJob(t, st, 10)
	r := NewSimulatedRunner(st, 5)

	first, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	second, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, first.Creators, second.Creators)
}

func TestSimulatedRunnerCompletesSatisfiedJob(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedSimJob(t, st, 3)
	creators := []model.CreatorRecord{
		{Handle: "a", Platform: model.PlatformTikTok},
		{Handle: "b", Platform: model.PlatformTikTok},
		{Handle: "c", Platform: model.PlatformTikTok},
	}
	require.NoError(t, st.AppendResults(context.Background(), job.ID, creators))

	r := NewSimulatedRunner(st, 5)
	res, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.False(t, res.HasMore)
	assert.Empty(t, res.Creators)
}

func TestSimulatedRunnerUnknownJob(t *testing.T) {
	st := store.NewMemoryStore()
	r := NewSimulatedRunner(st, 5)
	_, err := r.Run(context.Background(), "missing")
	require.Error(t, err)
}
