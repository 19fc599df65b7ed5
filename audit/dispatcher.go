package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// DispatchConfig controls asynchronous writes.
type DispatchConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type dispatchJob struct {
	ctx   context.Context
	entry Entry
}

// Dispatcher forwards entries to a write function from a single goroutine.
type Dispatcher struct {
	cfg       DispatchConfig
	write     func(context.Context, Entry)
	ch        chan dispatchJob
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	// mu is held shared by every send so Close cannot finish draining while one is in flight.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewDispatcher returns nil when cfg is disabled. A nil *Dispatcher is safe to use.
func NewDispatcher(cfg DispatchConfig, write func(context.Context, Entry)) *Dispatcher {
	if !cfg.Enabled || write == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &Dispatcher{
		cfg:   cfg,
		write: write,
		ch:    make(chan dispatchJob, cfg.BufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.ch:
			d.write(job.ctx, job.entry)
		case <-d.done:
			for {
				select {
				case job := <-d.ch:
					d.write(job.ctx, job.entry)
				default:
					return
				}
			}
		}
	}
}

// Emit queues entry. With DropIfFull a full buffer drops the entry and counts it;
// otherwise Emit blocks until there is room or ctx is done. Entries emitted after
// Close are counted as dropped.
func (d *Dispatcher) Emit(ctx context.Context, entry Entry) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	job := dispatchJob{ctx: context.WithoutCancel(ctx), entry: entry}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- job:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- job:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting entries and waits until queued ones are written.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

// Dropped returns the number of entries that never reached the write function.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
