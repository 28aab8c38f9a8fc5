package cleanup

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkvault/internal/metrics"
)

type fakeIndex struct {
	mu      sync.Mutex
	calls   [][]int64
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeIndex) DeleteDocuments(ctx context.Context, ids []int64) error {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	return f.err
}

func (f *fakeIndex) Calls() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int64(nil), f.calls...)
}

type fakeArchive struct {
	mu       sync.Mutex
	prefixes []string
	err      error
}

func (f *fakeArchive) RemoveNamespace(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return f.err
}

func (f *fakeArchive) Prefixes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prefixes...)
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDispatcher_RunsPlanInOrder(t *testing.T) {
	index := &fakeIndex{}
	archives := &fakeArchive{}
	d := NewDispatcher(index, archives, Options{Workers: 1}, testLogger())

	var plan Plan
	plan.Add(Step{CollectionID: 3, LinkIDs: []int64{30, 31}, Namespaces: []string{"archives/3", "archives/preview/3"}})
	plan.Add(Step{CollectionID: 2, Namespaces: []string{"archives/2", "archives/preview/2"}})
	plan.Add(Step{CollectionID: 1, LinkIDs: []int64{10}, Namespaces: []string{"archives/1", "archives/preview/1"}})

	assert.Equal(t, []int64{30, 31, 10}, plan.LinkIDs())
	assert.Equal(t, []int64{3, 2, 1}, plan.CollectionIDs())

	d.Dispatch(plan)
	d.Close()

	assert.Equal(t, [][]int64{{30, 31}, {10}}, index.Calls(), "empty link lists issue no search call")
	assert.Equal(t, []string{
		"archives/3", "archives/preview/3",
		"archives/2", "archives/preview/2",
		"archives/1", "archives/preview/1",
	}, archives.Prefixes())
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	index := &fakeIndex{err: errors.New("index unreachable")}
	archives := &fakeArchive{}
	d := NewDispatcher(index, archives, Options{Workers: 1}, testLogger())

	before := testutil.ToFloat64(metrics.CleanupFailures.WithLabelValues("search"))

	var plan Plan
	plan.Add(Step{CollectionID: 1, LinkIDs: []int64{1}, Namespaces: []string{"archives/1"}})
	d.Dispatch(plan)
	d.Close()

	assert.Len(t, index.Calls(), 1)
	assert.Equal(t, []string{"archives/1"}, archives.Prefixes(), "archive cleanup runs despite the index failure")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CleanupFailures.WithLabelValues("search")))
}

func TestDispatcher_BreakerStopsCallingFailingTarget(t *testing.T) {
	index := &fakeIndex{err: errors.New("index unreachable")}
	archives := &fakeArchive{}
	d := NewDispatcher(index, archives, Options{Workers: 1, BreakerFailures: 2}, testLogger())

	var plan Plan
	for i := int64(1); i <= 5; i++ {
		plan.Add(Step{CollectionID: i, LinkIDs: []int64{i}})
	}
	d.Dispatch(plan)
	d.Close()

	assert.Len(t, index.Calls(), 2, "breaker should open after two consecutive failures")
}

func TestDispatcher_DropsWhenQueueFullOrClosed(t *testing.T) {
	index := &fakeIndex{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(index, &fakeArchive{}, Options{Workers: 1, QueueSize: 1}, testLogger())

	before := testutil.ToFloat64(metrics.CleanupDropped)

	d.Dispatch(Plan{Steps: []Step{{CollectionID: 1, LinkIDs: []int64{1}}}})
	<-index.started // the only worker is now busy

	d.Dispatch(Plan{Steps: []Step{
		{CollectionID: 2, LinkIDs: []int64{2}},
		{CollectionID: 3, LinkIDs: []int64{3}},
		{CollectionID: 4, LinkIDs: []int64{4}},
	}})
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.CleanupDropped), "one task fits in the queue")

	close(index.release)
	go func() {
		for range index.started {
		}
	}()
	d.Close()
	close(index.started)

	require.Len(t, index.Calls(), 2)

	d.Dispatch(Plan{Steps: []Step{{CollectionID: 5, LinkIDs: []int64{5}}}})
	assert.Equal(t, before+3, testutil.ToFloat64(metrics.CleanupDropped))
	d.Close()
}
