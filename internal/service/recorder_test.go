package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]*models.AdmissionEvent
	err     error
}

func (s *memorySink) CreateBatch(_ context.Context, events []*models.AdmissionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	return s.err
}

func (s *memorySink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestEventRecorder_BatchesBySize(t *testing.T) {
	sink := &memorySink{}
	rec := NewEventRecorder(sink, RecorderConfig{BatchSize: 3, FlushInterval: time.Hour}, nil)
	rec.Start()

	for i := 0; i < 6; i++ {
		require.True(t, rec.Record(&models.AdmissionEvent{Outcome: "rate_limited"}))
	}

	assert.Eventually(t, func() bool { return sink.total() == 6 }, time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop(context.Background()))
}

func TestEventRecorder_FlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	rec := NewEventRecorder(sink, RecorderConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil)
	rec.Start()
	defer rec.Stop(context.Background())

	rec.Record(&models.AdmissionEvent{Outcome: "quota_exceeded"})

	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEventRecorder_StopFlushesPending(t *testing.T) {
	sink := &memorySink{}
	rec := NewEventRecorder(sink, RecorderConfig{BatchSize: 100, FlushInterval: time.Hour}, nil)
	rec.Start()

	for i := 0; i < 5; i++ {
		rec.Record(&models.AdmissionEvent{Outcome: "rate_limited"})
	}
	require.NoError(t, rec.Stop(context.Background()))

	assert.Equal(t, 5, sink.total())
	assert.False(t, rec.Record(&models.AdmissionEvent{}), "recording after stop must be rejected")
}

func TestEventRecorder_DropsWhenFull(t *testing.T) {
	rec := NewEventRecorder(&memorySink{}, RecorderConfig{BufferSize: 2}, nil)

	assert.True(t, rec.Record(&models.AdmissionEvent{}))
	assert.True(t, rec.Record(&models.AdmissionEvent{}))
	assert.False(t, rec.Record(&models.AdmissionEvent{}))

	require.NoError(t, rec.Stop(context.Background()))
}

func TestEventRecorder_SinkErrorsDoNotStopWorker(t *testing.T) {
	sink := &memorySink{err: errors.New("insert failed")}
	rec := NewEventRecorder(sink, RecorderConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	rec.Start()

	rec.Record(&models.AdmissionEvent{})
	rec.Record(&models.AdmissionEvent{})

	assert.Eventually(t, func() bool { return sink.total() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop(context.Background()))
}
