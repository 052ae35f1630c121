// Package build adapts bundlers to the build-start and build-end hooks the
// live-reload bridge listens on.
package build

import "sync"

// Lifecycle holds build-start and build-end callbacks. It is safe for
// concurrent use; callbacks run on the goroutine that calls Start or End,
// in registration order.
type Lifecycle struct {
	mu      sync.Mutex
	onStart []func()
	onEnd   []func()
}

// OnBuildStart registers cb to run when a build begins.
func (l *Lifecycle) OnBuildStart(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStart = append(l.onStart, cb)
}

// OnBuildEnd registers cb to run when a build finishes, successful or not.
func (l *Lifecycle) OnBuildEnd(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEnd = append(l.onEnd, cb)
}

// Start fires the build-start callbacks.
func (l *Lifecycle) Start() {
	l.mu.Lock()
	cbs := append([]func(){}, l.onStart...)
	l.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// End fires the build-end callbacks.
func (l *Lifecycle) End() {
	l.mu.Lock()
	cbs := append([]func(){}, l.onEnd...)
	l.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
