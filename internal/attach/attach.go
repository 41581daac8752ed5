// Package attach is the lifecycle primitive every entity decoration is
// built on. Callers supply an update and a destroy; the scope
// guarantees the update runs each frame (unless opted out) and the
// destroy runs exactly once, triggered by the earliest of an explicit
// call, the parent visual's destruction, or the scope shutting down.
package attach

import (
	"stagelink/engine/internal/scene"
)

// Hooks carries the caller-supplied behavior for one attachment.
type Hooks struct {
	// Update refreshes the decoration from its parent's current state.
	Update func()
	// Destroy frees whatever visuals the decoration owns.
	Destroy func()
	// Visual optionally exposes the decoration's own handle.
	Visual scene.Visual
}

// Options tunes how an attachment is driven.
type Options struct {
	// ManualUpdate opts out of the stage's per-frame subscription. The
	// owner is then responsible for calling Update, typically via a
	// registry's per-frame pass.
	ManualUpdate bool
}

// Attachment is a live decoration bound to one parent entity.
type Attachment struct {
	update      func()
	destroy     func()
	visual      scene.Visual
	manual      bool
	destroyed   bool
	unsubFrame  func()
	unsubParent func()
}

// Scope owns a set of attachments and tears all of them down when the
// owning context shuts down.
type Scope struct {
	stage  scene.Stage
	items  []*Attachment
	closed bool
}

// NewScope creates an attachment scope driven by the given stage.
func NewScope(stage scene.Stage) *Scope {
	return &Scope{stage: stage}
}

// Attach binds hooks to a parent visual. A nil parent attaches to the
// scope only (destroyed on scope close or explicit call).
func (s *Scope) Attach(parent scene.Visual, hooks Hooks, opts Options) *Attachment {
	a := &Attachment{
		update:  hooks.Update,
		destroy: hooks.Destroy,
		visual:  hooks.Visual,
		manual:  opts.ManualUpdate,
	}
	if s.closed {
		a.Destroy()
		return a
	}
	if !opts.ManualUpdate && s.stage != nil && hooks.Update != nil {
		a.unsubFrame = s.stage.OnFrame(func(float64) { a.Update() })
	}
	if parent != nil {
		a.unsubParent = parent.OnDestroy(a.Destroy)
	}
	s.sweep()
	s.items = append(s.items, a)
	return a
}

// sweep drops destroyed attachments so entity churn does not grow the
// scope for the life of the session.
func (s *Scope) sweep() {
	live := s.items[:0]
	for _, a := range s.items {
		if !a.destroyed {
			live = append(live, a)
		}
	}
	s.items = live
}

// Compose fans one update/destroy pair over an ordered list of child
// attachments. Each child's own frame subscription is detached so
// exactly one subscription drives the whole group in order.
func (s *Scope) Compose(parent scene.Visual, children []*Attachment, opts Options) *Attachment {
	ordered := append([]*Attachment(nil), children...)
	for _, child := range ordered {
		child.suspendAuto()
	}
	return s.Attach(parent, Hooks{
		Update: func() {
			for _, child := range ordered {
				child.Update()
			}
		},
		Destroy: func() {
			for _, child := range ordered {
				child.Destroy()
			}
		},
	}, opts)
}

// Close destroys every attachment still alive in the scope. Safe to
// call more than once.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	items := s.items
	s.items = nil
	for _, a := range items {
		a.Destroy()
	}
}

// Live reports how many attachments in the scope are not yet destroyed.
func (s *Scope) Live() int {
	s.sweep()
	return len(s.items)
}

// Update runs the attachment's update hook. No-op once destroyed.
func (a *Attachment) Update() {
	if a == nil || a.destroyed || a.update == nil {
		return
	}
	a.update()
}

// Destroy tears the attachment down. Idempotent: repeated calls,
// parent destruction after an explicit call, and scope shutdown all
// collapse into a single teardown side effect.
func (a *Attachment) Destroy() {
	if a == nil || a.destroyed {
		return
	}
	a.destroyed = true
	if a.unsubFrame != nil {
		a.unsubFrame()
		a.unsubFrame = nil
	}
	if a.unsubParent != nil {
		a.unsubParent()
		a.unsubParent = nil
	}
	if a.destroy != nil {
		a.destroy()
	}
	if a.visual != nil {
		a.visual.Destroy()
	}
	a.update = nil
	a.destroy = nil
}

// Destroyed reports whether teardown has run.
func (a *Attachment) Destroyed() bool { return a == nil || a.destroyed }

// Manual reports whether the attachment opted out of automatic updates.
func (a *Attachment) Manual() bool { return a != nil && a.manual }

// Visual returns the decoration's own handle, if any.
func (a *Attachment) Visual() scene.Visual {
	if a == nil {
		return nil
	}
	return a.visual
}

// suspendAuto detaches the frame subscription without destroying, used
// when a composite takes over driving the child.
func (a *Attachment) suspendAuto() {
	if a == nil {
		return
	}
	if a.unsubFrame != nil {
		a.unsubFrame()
		a.unsubFrame = nil
	}
}
