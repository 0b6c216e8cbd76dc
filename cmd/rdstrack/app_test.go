package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestApp(t *testing.T) *app {
	t.Helper()
	dataDir, offline = t.TempDir(), true
	t.Cleanup(func() {
		dataDir, offline = "", false
	})
	a, err := openApp(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func rtUpdatesRecorded(t *testing.T, a *app) bool {
	t.Helper()
	families, err := a.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "rdstrack_pipeline_rt_updates_total" {
			return len(mf.GetMetric()) > 0
		}
	}
	return false
}

func TestReplayPipelinesRecordNoMetrics(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	target, release, err := a.replayFactory(false)(nil)
	require.NoError(t, err)
	_, err = target.OnRtUpdate(ctx, 1, "Some Artist - Some Title")
	require.NoError(t, err)
	release()
	assert.False(t, rtUpdatesRecorded(t, a), "replays must not count as live updates")

	live, err := a.newPipeline(pipelineOptions{})
	require.NoError(t, err)
	defer live.Close()
	_, err = live.OnRtUpdate(ctx, 1, "Some Artist - Some Title")
	require.NoError(t, err)
	assert.True(t, rtUpdatesRecorded(t, a))
}
