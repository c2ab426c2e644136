package trace

// Element is a frame after symbolization.
type Element struct {
	IP uint64
	SP uint64
	// Name is the display name of the frame, the hexadecimal IP when
	// Symbolized is false.
	Name       string
	Symbolized bool
}

// ThreadTrace is the symbolized call stack of one thread, innermost frame
// first.
type ThreadTrace struct {
	Tid      int
	Elements []Element
}
