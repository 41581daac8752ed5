package scene

// Headless is a stage with no rendering backend. The demo server and
// the test suites drive it directly; Step stands in for the host
// environment's frame callback.
type Headless struct {
	groups  map[string]*headlessGroup
	frames  []*frameSub
	created int
}

type frameSub struct {
	fn func(dt float64)
}

// NewHeadless returns an empty headless stage.
func NewHeadless() *Headless {
	return &Headless{groups: make(map[string]*headlessGroup)}
}

// Group returns the named container, creating it on first use.
func (h *Headless) Group(name string) Group {
	group, ok := h.groups[name]
	if !ok {
		group = &headlessGroup{members: make(map[Visual]struct{})}
		h.groups[name] = group
	}
	return group
}

// NewText creates a label visual.
func (h *Headless) NewText(value string) Text {
	h.created++
	return &HeadlessText{HeadlessVisual: HeadlessVisual{alpha: 1}, text: value}
}

// NewVisual creates a plain visual. Game code passes these out of its
// creation callbacks when running headless.
func (h *Headless) NewVisual() *HeadlessVisual {
	h.created++
	return &HeadlessVisual{alpha: 1}
}

// Created reports how many visuals the stage has handed out.
func (h *Headless) Created() int { return h.created }

// OnFrame registers a per-frame handler.
func (h *Headless) OnFrame(fn func(dt float64)) func() {
	sub := &frameSub{fn: fn}
	h.frames = append(h.frames, sub)
	return func() { sub.fn = nil }
}

// Step dispatches one frame to every live handler. Handlers that
// unsubscribe mid-frame stop receiving ticks immediately.
func (h *Headless) Step(dt float64) {
	live := h.frames[:0]
	for _, sub := range h.frames {
		if sub.fn != nil {
			live = append(live, sub)
		}
	}
	h.frames = live
	for _, sub := range append([]*frameSub(nil), live...) {
		if sub.fn != nil {
			sub.fn(dt)
		}
	}
}

type headlessGroup struct {
	members map[Visual]struct{}
}

func (g *headlessGroup) Add(v Visual) {
	if v != nil {
		g.members[v] = struct{}{}
	}
}

func (g *headlessGroup) Remove(v Visual) {
	delete(g.members, v)
}

func (g *headlessGroup) Len() int { return len(g.members) }

// HeadlessVisual is the no-op visual handle used without a renderer.
type HeadlessVisual struct {
	x, y      float64
	rotation  float64
	alpha     float64
	destroyed bool
	onDestroy []*destroySub
}

type destroySub struct {
	fn func()
}

func (v *HeadlessVisual) Position() (float64, float64) { return v.x, v.y }

func (v *HeadlessVisual) SetPosition(x, y float64) {
	if v.destroyed {
		return
	}
	v.x, v.y = x, y
}

func (v *HeadlessVisual) Rotation() float64 { return v.rotation }

func (v *HeadlessVisual) SetRotation(radians float64) {
	if v.destroyed {
		return
	}
	v.rotation = radians
}

func (v *HeadlessVisual) Alpha() float64 { return v.alpha }

func (v *HeadlessVisual) SetAlpha(alpha float64) {
	if v.destroyed {
		return
	}
	v.alpha = alpha
}

// Destroyed reports whether Destroy has run.
func (v *HeadlessVisual) Destroyed() bool { return v.destroyed }

func (v *HeadlessVisual) Destroy() {
	if v.destroyed {
		return
	}
	v.destroyed = true
	subs := v.onDestroy
	v.onDestroy = nil
	for _, sub := range subs {
		if sub.fn != nil {
			sub.fn()
		}
	}
}

func (v *HeadlessVisual) OnDestroy(fn func()) func() {
	if v.destroyed {
		fn()
		return func() {}
	}
	sub := &destroySub{fn: fn}
	v.onDestroy = append(v.onDestroy, sub)
	return func() { sub.fn = nil }
}

// HeadlessText is a label visual for headless runs.
type HeadlessText struct {
	HeadlessVisual
	text string
}

func (t *HeadlessText) SetText(value string) {
	if t.destroyed {
		return
	}
	t.text = value
}

func (t *HeadlessText) Value() string { return t.text }
