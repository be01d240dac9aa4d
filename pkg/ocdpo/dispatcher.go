package ocdpo

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/store"
	"github.com/cascadedb/cascade/pkg/types"
)

// AffinityClass groups observers that must run on a single dedicated
// worker goroutine, modeling embedded interpreters and other thread-affine
// user code (§4.5 "Thread-affine observers").
type AffinityClass string

// DefaultClass is the free worker pool used by observers with no declared
// affinity.
const DefaultClass AffinityClass = ""

// EmitFunc is an observer's hook back into the store. version ==
// store.CurrentVersion performs an ordinary put: the store assigns fresh
// (version, timestamp_us) and checks previousVersion and
// previousVersionByKey per §4.2. Any other version sends the blob as a
// trigger put instead: observers fire but nothing is stored, and version,
// previousVersion and previousVersionByKey are not used.
type EmitFunc func(ctx context.Context, key string, version int64, previousVersion, previousVersionByKey int64, blob []byte) error

// Observer is invoked once per commit under a registered pool prefix. It
// must copy or take ownership of obj.Blob before returning — the
// dispatcher does not guarantee the backing array outlives the call.
type Observer func(ctx context.Context, pathname, key string, obj *types.Object, emit EmitFunc)

// queueDepth bounds the per-class work queue (§5 "bounded queue").
const queueDepth = 1024

// workItem is one (pathname, key, object) tuple to dispatch, carrying the
// shard it was committed to so emit can round-trip through it.
type workItem struct {
	shard    *store.Shard
	pathname string
	key      string
	obj      *types.Object
}

type registration struct {
	prefix   string
	affinity AffinityClass
	observer Observer
}

// worker is a single goroutine draining its own queue. A key always maps
// to the same worker of its class (see pickWorker) and each queue has
// exactly one consumer, so per-key commit order holds within that class.
type worker struct {
	class AffinityClass
	items chan workItem
}

// Dispatcher fans committed objects out to registered observers on a
// bounded worker pool, implementing store.CommitObserver. One Dispatcher
// can serve any number of shards; callers wire it to each shard via
// shard.AddObserver(d).
type Dispatcher struct {
	mu    sync.RWMutex
	regs  []registration
	class map[AffinityClass][]*worker // DefaultClass holds poolSize workers; every other class holds exactly one

	poolSize int
	wg       sync.WaitGroup
	stopCh   chan struct{}
	grace    time.Duration
}

// NewDispatcher creates a dispatcher with a free pool of poolSize workers
// for DefaultClass dispatch; thread-affine classes each get exactly one
// dedicated worker, created lazily on first registration. grace bounds how
// long Close waits for in-flight invocations to finish (§4.5 "awaited with
// a bounded grace period").
func NewDispatcher(poolSize int, grace time.Duration) *Dispatcher {
	if poolSize < 1 {
		poolSize = 1
	}
	d := &Dispatcher{
		class:    make(map[AffinityClass][]*worker),
		poolSize: poolSize,
		stopCh:   make(chan struct{}),
		grace:    grace,
	}
	for i := 0; i < poolSize; i++ {
		d.startWorker(DefaultClass)
	}
	return d
}

// RegisterObserver registers observer for every committed key under
// poolPrefix. Declaring a non-empty affinity places all of the class's
// dispatch on one dedicated worker goroutine, regardless of poolSize.
func (d *Dispatcher) RegisterObserver(poolPrefix string, affinity AffinityClass, observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = append(d.regs, registration{prefix: poolPrefix, affinity: affinity, observer: observer})
	if affinity != DefaultClass {
		if _, ok := d.class[affinity]; !ok {
			d.startWorker(affinity)
		}
	}
}

func (d *Dispatcher) startWorker(class AffinityClass) {
	w := &worker{class: class, items: make(chan workItem, queueDepth)}
	d.class[class] = append(d.class[class], w)
	d.wg.Add(1)
	go d.run(w)
}

// pickWorker selects the worker a given key's commits always land on
// within a class, so per-key ordering (§4.5) holds even when the free
// pool has more than one worker.
func (d *Dispatcher) pickWorker(class AffinityClass, key string) *worker {
	pool := d.class[class]
	if len(pool) == 1 {
		return pool[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return pool[h.Sum32()%uint32(len(pool))]
}

// OnCommit implements store.CommitObserver. Each matching class's worker
// queue is bounded; a full queue is logged and the send then blocks the
// delivery thread until the worker makes room or the dispatcher closes,
// rather than silently dropping the commit, preserving the at-least-once
// guarantee.
func (d *Dispatcher) OnCommit(shard *store.Shard, pathname string, obj *types.Object) {
	d.dispatch(shard, pathname, obj)
}

func (d *Dispatcher) dispatch(shard *store.Shard, pathname string, obj *types.Object) {
	d.mu.RLock()
	matches := make([]registration, 0, 1)
	for _, r := range d.regs {
		if strings.HasPrefix(pathname, r.prefix) {
			matches = append(matches, r)
		}
	}
	d.mu.RUnlock()

	item := workItem{shard: shard, pathname: pathname, key: obj.Key, obj: obj}
	// invoke runs every matching observer of the worker's class, so each
	// class is enqueued once per commit.
	seen := make(map[AffinityClass]bool, len(matches))
	for _, r := range matches {
		if seen[r.affinity] {
			continue
		}
		seen[r.affinity] = true
		d.mu.RLock()
		w := d.pickWorker(r.affinity, obj.Key)
		d.mu.RUnlock()
		d.enqueue(w, r, item)
	}
}

func (d *Dispatcher) enqueue(w *worker, r registration, item workItem) {
	select {
	case w.items <- item:
		return
	default:
	}
	metrics.OCDPOQueueDepth.WithLabelValues(string(w.class)).Set(float64(len(w.items)))
	log.WithField("pool", item.pathname).Warn().Msg("ocdpo: worker queue full, blocking delivery of commit to preserve at-least-once dispatch")
	select {
	case w.items <- item:
	case <-d.stopCh:
	}
}

func (d *Dispatcher) run(w *worker) {
	defer d.wg.Done()
	for {
		select {
		case item := <-w.items:
			d.invoke(w, item)
		case <-d.stopCh:
			// drain whatever is already queued before exiting, up to the
			// grace period enforced by Close.
			for {
				select {
				case item := <-w.items:
					d.invoke(w, item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) invoke(w *worker, item workItem) {
	d.mu.RLock()
	var obs []Observer
	for _, r := range d.regs {
		if r.affinity == w.class && strings.HasPrefix(item.pathname, r.prefix) {
			obs = append(obs, r.observer)
		}
	}
	d.mu.RUnlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OCDPODispatchDuration, item.pathname)

	for _, o := range obs {
		outcome := "ok"
		if !d.safeInvoke(o, item) {
			outcome = "panic"
		}
		metrics.OCDPODispatchedTotal.WithLabelValues(item.pathname, outcome).Inc()
	}
}

// safeInvoke recovers a panicking observer into a logged ObserverException
// per §7's error table, without interrupting dispatch for other
// registrations or later commits. It reports whether the observer
// returned normally.
func (d *Dispatcher) safeInvoke(o Observer, item workItem) (ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			ok = false
			log.WithField("pool", item.pathname).Error().Str("key", item.key).Msg(fmt.Sprintf("ocdpo: observer panic: %v", r))
		}
	}()

	emit := func(ctx context.Context, key string, version int64, previousVersion, previousVersionByKey int64, blob []byte) error {
		shard := item.shard
		if shard == nil {
			return fmt.Errorf("ocdpo: emit requires a shard-bound dispatch, got pathname-only commit for %s", key)
		}
		cloned := append([]byte(nil), blob...)
		if version == store.CurrentVersion {
			_, err := shard.Put(ctx, key, cloned, previousVersion, previousVersionByKey, item.obj.MessageID)
			return err
		}
		shard.TriggerPut(key, cloned, item.obj.MessageID)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o(ctx, item.pathname, item.key, item.obj, emit)
}

// Close stops accepting new dispatch and waits up to the configured grace
// period for in-flight and already-queued invocations to finish.
func (d *Dispatcher) Close() error {
	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(d.grace):
		return fmt.Errorf("ocdpo: dispatcher close timed out after %s with workers still draining", d.grace)
	}
}
