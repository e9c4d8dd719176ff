package host

import (
	"context"
	"sync"
)

// PromiseState is the settlement state of a Promise.
type PromiseState int

const (
	Pending PromiseState = iota
	Fulfilled
	Rejected
)

// Promise is an eventually settled value. Reactions run as microtasks on the
// loop. A promise rejected with no reaction attached by the end of the
// current job is reported to the realm's rejection handler.
type Promise struct {
	realm *Realm

	mu        sync.Mutex
	state     PromiseState
	value     any
	handled   bool
	reactions []reaction
}

type reaction struct {
	onFulfilled func(any) any
	onRejected  func(any) any
	next        *Promise
}

// RejectionEvent is passed to the rejection handler.
type RejectionEvent struct {
	Promise *Promise
	Reason  any
}

// RejectionReason returns the rejection reason.
func (e *RejectionEvent) RejectionReason() any {
	return e.Reason
}

// NewPromise runs executor synchronously. A panic in executor rejects the
// promise with the panic value.
func (r *Realm) NewPromise(executor func(resolve, reject func(any))) *Promise {
	p := &Promise{realm: r}
	func() {
		defer func() {
			if v := recover(); v != nil {
				p.reject(v)
			}
		}()
		executor(p.resolve, p.reject)
	}()
	return p
}

// Resolve returns a promise fulfilled with v.
func (r *Realm) Resolve(v any) *Promise {
	p := &Promise{realm: r}
	p.resolve(v)
	return p
}

// Reject returns a promise rejected with reason.
func (r *Realm) Reject(reason any) *Promise {
	p := &Promise{realm: r}
	p.reject(reason)
	return p
}

// Async runs fn in the background and settles the returned promise on the
// loop: rejected with the error (or panic value), fulfilled otherwise.
func (r *Realm) Async(fn func(ctx context.Context) (any, error)) *Promise {
	p := &Promise{realm: r}
	r.background(func(ctx context.Context) (complete func()) {
		defer func() {
			if v := recover(); v != nil {
				complete = func() { p.reject(v) }
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			return func() { p.reject(err) }
		}
		return func() { p.resolve(v) }
	})
	return p
}

// State returns the settlement state.
func (p *Promise) State() PromiseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the fulfillment value, or nil.
func (p *Promise) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Fulfilled {
		return nil
	}
	return p.value
}

// Reason returns the rejection reason, or nil.
func (p *Promise) Reason() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Rejected {
		return nil
	}
	return p.value
}

// Then attaches reactions and returns the derived promise. A nil reaction
// passes the settlement through. A panicking reaction rejects the derived
// promise.
func (p *Promise) Then(onFulfilled, onRejected func(any) any) *Promise {
	rc := reaction{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		next:        &Promise{realm: p.realm},
	}

	p.mu.Lock()
	p.handled = true
	settled := p.state != Pending
	if !settled {
		p.reactions = append(p.reactions, rc)
	}
	p.mu.Unlock()

	if settled {
		p.realm.queueMicrotask(func() { p.run(rc) })
	}
	return rc.next
}

// Catch is Then(nil, onRejected).
func (p *Promise) Catch(onRejected func(any) any) *Promise {
	return p.Then(nil, onRejected)
}

func (p *Promise) isHandled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handled
}

func (p *Promise) resolve(v any) {
	if other, ok := v.(*Promise); ok && other != nil {
		other.Then(
			func(x any) any { p.resolve(x); return nil },
			func(reason any) any { p.reject(reason); return nil },
		)
		return
	}
	p.settle(Fulfilled, v)
}

func (p *Promise) reject(reason any) {
	p.settle(Rejected, reason)
}

func (p *Promise) settle(state PromiseState, v any) {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.value = v
	reactions := p.reactions
	p.reactions = nil
	handled := p.handled
	p.mu.Unlock()

	for _, rc := range reactions {
		rc := rc
		p.realm.queueMicrotask(func() { p.run(rc) })
	}
	if state == Rejected && !handled {
		p.realm.trackRejection(p)
	}
}

func (p *Promise) run(rc reaction) {
	p.mu.Lock()
	state, value := p.state, p.value
	p.mu.Unlock()

	handler := rc.onFulfilled
	if state == Rejected {
		handler = rc.onRejected
	}
	if handler == nil {
		if state == Rejected {
			rc.next.reject(value)
		} else {
			rc.next.resolve(value)
		}
		return
	}

	defer func() {
		if v := recover(); v != nil {
			rc.next.reject(v)
		}
	}()
	rc.next.resolve(handler(value))
}
