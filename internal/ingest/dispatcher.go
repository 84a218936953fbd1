package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers    = 2
	DefaultQueueSize  = 64
	DefaultJobTimeout = 2 * time.Minute
)

var errMissingProcessor = errors.New("submission processor is required")

// SubmissionProcessor processes one submission by id.
type SubmissionProcessor interface {
	ProcessSubmission(ctx context.Context, submissionID string) error
}

// ErrorSink receives the error of every failed background job.
type ErrorSink func(submissionID string, err error)

type DispatcherConfig struct {
	Processor  SubmissionProcessor
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	ErrorSink  ErrorSink
	Logger     *zap.Logger
}

// Dispatcher runs submission processing on a bounded in-process queue.
type Dispatcher struct {
	processor  SubmissionProcessor
	workers    int
	jobTimeout time.Duration
	errorSink  ErrorSink
	logger     *zap.Logger

	queue  chan string
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Processor == nil {
		return nil, errMissingProcessor
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	sink := cfg.ErrorSink
	if sink == nil {
		sink = func(submissionID string, err error) {
			logger.Error("background ingest failed",
				zap.String("submission_id", submissionID),
				zap.Error(err))
		}
	}
	return &Dispatcher{
		processor:  cfg.Processor,
		workers:    workers,
		jobTimeout: jobTimeout,
		errorSink:  sink,
		logger:     logger,
		queue:      make(chan string, queueSize),
	}, nil
}

// Enqueue schedules a submission without waiting. It returns false when the queue
// is full or the dispatcher has stopped; the submission stays pending for the sweeper.
func (d *Dispatcher) Enqueue(submissionID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- submissionID:
		return true
	default:
		d.logger.Warn("ingest queue full; dropping handoff", zap.String("submission_id", submissionID))
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and in-flight jobs finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for index := 0; index < d.workers; index++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case submissionID := <-d.queue:
					d.process(groupCtx, submissionID)
				}
			}
		})
	}

	<-groupCtx.Done()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	err := group.Wait()
	if remaining := len(d.queue); remaining > 0 {
		d.logger.Info("dispatcher stopped with queued submissions; sweeper will resume them",
			zap.Int("queued", remaining))
	}
	return err
}

func (d *Dispatcher) process(ctx context.Context, submissionID string) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.jobTimeout)
	defer cancel()

	if err := d.processor.ProcessSubmission(jobCtx, submissionID); err != nil {
		d.errorSink(submissionID, err)
	}
}
