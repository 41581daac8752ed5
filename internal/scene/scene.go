// Package scene abstracts the presentation context the engine renders
// through. The engine never draws anything itself; it manipulates
// opaque visual handles supplied by whichever stage the hosting
// application provides. A headless stage ships alongside for servers
// and tests.
package scene

// Visual is an opaque handle to one rendered object.
type Visual interface {
	Position() (x, y float64)
	SetPosition(x, y float64)
	Rotation() float64
	SetRotation(radians float64)
	Alpha() float64
	SetAlpha(alpha float64)
	// Destroy frees the visual. Further calls are no-ops.
	Destroy()
	// OnDestroy registers fn to run when the visual is destroyed. The
	// returned unsubscribe is safe to call repeatedly and from inside
	// the callback itself.
	OnDestroy(fn func()) (unsubscribe func())
}

// Text is a visual carrying a mutable string, used for entity labels.
type Text interface {
	Visual
	SetText(value string)
	Value() string
}

// Group is a grouping/collision container visuals are attached to.
type Group interface {
	Add(v Visual)
	Remove(v Visual)
	Len() int
}

// Stage is the surface the engine consumes from the presentation
// layer: object grouping, label creation, and a per-frame tick source.
type Stage interface {
	Group(name string) Group
	NewText(value string) Text
	// OnFrame registers fn to run every frame with the elapsed seconds.
	// The returned unsubscribe is re-entrancy safe.
	OnFrame(fn func(dt float64)) (unsubscribe func())
}
