package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTracker_EWMA(t *testing.T) {
	tr := NewLatencyTracker(0.5)

	tr.ObserveOK(StageInference, 10*time.Millisecond)
	s, ok := tr.Get(StageInference)
	require.True(t, ok)
	assert.InDelta(t, 10, s.EWMAms, 1e-9)

	tr.ObserveOK(StageInference, 20*time.Millisecond)
	s, _ = tr.Get(StageInference)
	assert.InDelta(t, 15, s.EWMAms, 1e-9)
	assert.Equal(t, uint64(2), s.OK)
	assert.Equal(t, 20*time.Millisecond, s.LastDuration)
}

func TestLatencyTracker_FirstSampleZeroDuration(t *testing.T) {
	tr := NewLatencyTracker(0.5)
	tr.ObserveOK(StageDecode, 0)
	tr.ObserveOK(StageDecode, 8*time.Millisecond)

	s, _ := tr.Get(StageDecode)
	assert.InDelta(t, 4, s.EWMAms, 1e-9)
}

func TestLatencyTracker_Errors(t *testing.T) {
	tr := NewLatencyTracker(0.2)
	tr.Observe(StageDetect, time.Millisecond, errors.New("cascade failed"))
	tr.Observe(StageDetect, time.Millisecond, nil)

	s, _ := tr.Get(StageDetect)
	assert.Equal(t, uint64(1), s.OK)
	assert.Equal(t, uint64(1), s.Error)
}

func TestLatencyTracker_InvalidAlphaFallsBack(t *testing.T) {
	assert.Equal(t, 0.2, NewLatencyTracker(0).alpha)
	assert.Equal(t, 0.2, NewLatencyTracker(1.5).alpha)
}

func TestLatencyTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewLatencyTracker(0.2)
	tr.ObserveOK(StageDecode, time.Millisecond)

	snap := tr.Snapshot()
	require.Contains(t, snap, StageDecode)

	tr.ObserveOK(StageDecode, time.Millisecond)
	assert.Equal(t, uint64(1), snap[StageDecode].OK)

	_, ok := tr.Get("unknown")
	assert.False(t, ok)
}

func TestLatencyTracker_NilIsNoop(t *testing.T) {
	var tr *LatencyTracker
	assert.NotPanics(t, func() { tr.ObserveOK(StageDecode, time.Millisecond) })
}

func TestLatencyTracker_Concurrent(t *testing.T) {
	tr := NewLatencyTracker(0.2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.ObserveOK(StageInference, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	s, _ := tr.Get(StageInference)
	assert.Equal(t, uint64(800), s.OK)
}
