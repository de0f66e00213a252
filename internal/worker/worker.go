// Package worker provides the halt/goroutine-accounting primitive used by
// every long-lived task of a jetstream Connection: the receive loop, the
// sender task, and the heartbeat, retransmit and flush tickers. The
// listener's demux loop is a plain goroutine and does not use it.
//
// Embed Worker, launch goroutines with Go, and have each goroutine select
// on HaltCh() at its suspension points. Halt blocks until every goroutine
// launched via Go has returned.
package worker

import "sync"

// Worker is embedded by types that own one or more background goroutines.
// The zero value is ready to use.
type Worker struct {
	initOnce sync.Once
	haltOnce sync.Once
	haltCh   chan struct{}
	wg       sync.WaitGroup
}

// HaltCh returns the channel that is closed when Halt is called. Every
// goroutine launched with Go must select on this channel at its
// suspension points (socket read/write, timer tick, queue wait).
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// Go launches fn in a new goroutine tracked by this Worker's WaitGroup.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt closes HaltCh and blocks until all goroutines launched via Go have
// returned. Safe to call more than once and from more than one goroutine.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
	w.wg.Wait()
}

// Done decrements the goroutine count that Go increments. Go already
// calls it when fn returns, and Worker has no method to register a
// goroutine started outside Go, so a Done call not matched by such a
// count drives the underlying sync.WaitGroup negative, which panics.
func (w *Worker) Done() {
	w.wg.Done()
}

func (w *Worker) init() {
	w.haltCh = make(chan struct{})
}
