package metrics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/nova/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	t.Run("empty collector reports uptime only", func(t *testing.T) {
		c := metrics.NewCollector()

		snap := c.Snapshot()

		assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
		assert.Nil(t, snap.Turn)
		assert.Nil(t, snap.LLMStream)
		assert.Nil(t, snap.CommandExec)
	})

	t.Run("aggregates timings", func(t *testing.T) {
		c := metrics.NewCollector()
		c.RecordTiming(metrics.OpTurn, 100*time.Millisecond)
		c.RecordTiming(metrics.OpTurn, 300*time.Millisecond)

		snap := c.Snapshot()

		require.NotNil(t, snap.Turn)
		assert.Equal(t, int64(2), snap.Turn.Count)
		assert.Equal(t, int64(0), snap.Turn.Failures)
		assert.Equal(t, int64(400), snap.Turn.TotalTimeMs)
		assert.Equal(t, 200.0, snap.Turn.AvgTimeMs)
		assert.Equal(t, int64(100), snap.Turn.MinTimeMs)
		assert.Equal(t, int64(300), snap.Turn.MaxTimeMs)
	})

	t.Run("failures count toward totals", func(t *testing.T) {
		c := metrics.NewCollector()
		c.RecordTiming(metrics.OpLLMStream, 50*time.Millisecond)
		c.RecordFailure(metrics.OpLLMStream, 10*time.Millisecond)

		snap := c.Snapshot()

		require.NotNil(t, snap.LLMStream)
		assert.Equal(t, int64(2), snap.LLMStream.Count)
		assert.Equal(t, int64(1), snap.LLMStream.Failures)
	})

	t.Run("operations are independent", func(t *testing.T) {
		c := metrics.NewCollector()
		c.RecordTiming(metrics.OpWeatherLookup, 20*time.Millisecond)

		snap := c.Snapshot()

		assert.NotNil(t, snap.WeatherLookup)
		assert.Nil(t, snap.NewsLookup)
	})
}

func TestCollectorConcurrentUse(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(metrics.OpCommandExec, time.Millisecond)
			c.Snapshot()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	require.NotNil(t, snap.CommandExec)
	assert.Equal(t, int64(50), snap.CommandExec.Count)
}
