package service

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/hashicorp/go-hclog"
)

// EventSink persists admission events in batches.
type EventSink interface {
	CreateBatch(ctx context.Context, events []*models.AdmissionEvent) error
}

type RecorderConfig struct {
	BufferSize    int           // Default: 1000
	BatchSize     int           // Default: 100
	FlushInterval time.Duration // Default: 5 seconds
}

// EventRecorder queues admission events and writes them in the background.
// Record never blocks: when the buffer is full the event is dropped.
type EventRecorder struct {
	sink          EventSink
	events        chan *models.AdmissionEvent
	batchSize     int
	flushInterval time.Duration
	logger        hclog.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	startMu  sync.Mutex
	started  bool
}

func NewEventRecorder(sink EventSink, cfg RecorderConfig, logger hclog.Logger) *EventRecorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &EventRecorder{
		sink:          sink,
		events:        make(chan *models.AdmissionEvent, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger.Named("recorder"),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Starts the background worker. Calling it twice is a no-op
func (r *EventRecorder) Start() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return
	}
	r.started = true

	go r.run()
}

// Queues an event. Returns false when it was dropped
func (r *EventRecorder) Record(event *models.AdmissionEvent) bool {
	select {
	case <-r.quit:
		return false
	default:
	}

	select {
	case r.events <- event:
		return true
	default:
		r.logger.Warn("admission event buffer full, dropping event", "outcome", event.Outcome)
		return false
	}
}

// Stops the worker after flushing queued events, or when ctx expires
func (r *EventRecorder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.quit) })

	r.startMu.Lock()
	started := r.started
	r.startMu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *EventRecorder) run() {
	defer close(r.done)

	batch := make([]*models.AdmissionEvent, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.insert(batch)
		batch = make([]*models.AdmissionEvent, 0, r.batchSize)
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.quit:
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *EventRecorder) insert(batch []*models.AdmissionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.sink.CreateBatch(ctx, batch); err != nil {
		r.logger.Error("failed to insert admission events", "count", len(batch), "error", err)
	}
}
