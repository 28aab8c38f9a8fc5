package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"linkvault/internal/domain"
	"linkvault/internal/metrics"
)

const (
	targetSearch  = "search"
	targetArchive = "archive"
)

// DocumentDeleter is the part of the search index the dispatcher needs.
type DocumentDeleter interface {
	DeleteDocuments(ctx context.Context, linkIDs []int64) error
}

// NamespaceRemover is the part of the archive store the dispatcher needs.
type NamespaceRemover interface {
	RemoveNamespace(ctx context.Context, prefix string) error
}

// Options tunes the dispatcher. Zero values select defaults.
type Options struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration

	// BreakerFailures is how many consecutive failures open a target's breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long an open breaker rejects calls.
	BreakerTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
}

type task struct {
	target string
	desc   string
	run    func(ctx context.Context) error
}

// Dispatcher runs secondary-store deletions in the background. Failures are
// logged and counted, never returned; a later sweep reconciles what was lost.
type Dispatcher struct {
	index    DocumentDeleter
	archives NamespaceRemover
	opts     Options
	log      logrus.FieldLogger

	breakers map[string]*gobreaker.CircuitBreaker

	mu     sync.RWMutex
	closed bool
	tasks  chan task
	wg     sync.WaitGroup
}

// NewDispatcher starts opts.Workers background workers.
func NewDispatcher(index DocumentDeleter, archives NamespaceRemover, opts Options, logger logrus.FieldLogger) *Dispatcher {
	opts.setDefaults()
	d := &Dispatcher{
		index:    index,
		archives: archives,
		opts:     opts,
		log:      logger.WithField("component", "cleanup"),
		tasks:    make(chan task, opts.QueueSize),
	}
	d.breakers = map[string]*gobreaker.CircuitBreaker{
		targetSearch:  d.newBreaker(targetSearch),
		targetArchive: d.newBreaker(targetArchive),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) newBreaker(target string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Timeout:     d.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= d.opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.WithFields(logrus.Fields{
				"target": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("Cleanup circuit breaker changed state")
		},
	})
}

// Dispatch queues the plan's search and archive deletions in step order.
// It never blocks: tasks that do not fit in the queue are dropped.
func (d *Dispatcher) Dispatch(plan Plan) {
	for _, step := range plan.Steps {
		if len(step.LinkIDs) > 0 {
			ids := step.LinkIDs
			d.enqueue(task{
				target: targetSearch,
				desc:   fmt.Sprintf("delete %d documents of collection %d", len(ids), step.CollectionID),
				run: func(ctx context.Context) error {
					return d.index.DeleteDocuments(ctx, ids)
				},
			})
		}
		for _, ns := range step.Namespaces {
			prefix := ns
			d.enqueue(task{
				target: targetArchive,
				desc:   "remove " + prefix,
				run: func(ctx context.Context) error {
					return d.archives.RemoveNamespace(ctx, prefix)
				},
			})
		}
	}
}

func (d *Dispatcher) enqueue(t task) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.CleanupDropped.Inc()
		d.log.WithField("task", t.desc).Warn("Cleanup dispatcher closed, dropping task")
		return
	}
	select {
	case d.tasks <- t:
	default:
		metrics.CleanupDropped.Inc()
		d.log.WithField("task", t.desc).Warn("Cleanup queue full, dropping task")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.run(t)
	}
}

func (d *Dispatcher) run(t task) {
	log := d.log.WithFields(logrus.Fields{
		"target": t.target,
		"task":   t.desc,
	})

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.TaskTimeout)
	defer cancel()

	_, err := d.breakers[t.target].Execute(func() (interface{}, error) {
		return nil, t.run(ctx)
	})
	if err != nil {
		metrics.CleanupFailures.WithLabelValues(t.target).Inc()
		log.WithError(fmt.Errorf("%w: %w", targetError(t.target), err)).Error("Cleanup task failed")
		return
	}
	log.Debug("Cleanup task done")
}

func targetError(target string) error {
	if target == targetSearch {
		return domain.ErrSearchIndex
	}
	return domain.ErrArtifactStore
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("Cleanup dispatcher stopped")
}
