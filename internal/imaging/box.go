package imaging

// Box is an axis-aligned pixel rectangle in image coordinates.
// X/Y is the top-left corner; Width/Height are always non-negative.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Right returns the exclusive right edge.
func (b Box) Right() int {
	return b.X + b.Width
}

// Bottom returns the exclusive bottom edge.
func (b Box) Bottom() int {
	return b.Y + b.Height
}

// CenterY returns the vertical center of the box.
func (b Box) CenterY() int {
	return b.Y + b.Height/2
}

// Empty reports whether the box has zero area.
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Union returns the smallest box covering both b and other.
func (b Box) Union(other Box) Box {
	if b.Empty() {
		return other
	}
	if other.Empty() {
		return b
	}
	x1 := minInt(b.X, other.X)
	y1 := minInt(b.Y, other.Y)
	x2 := maxInt(b.Right(), other.Right())
	y2 := maxInt(b.Bottom(), other.Bottom())
	return Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Intersects reports whether b and other share any pixels.
func (b Box) Intersects(other Box) bool {
	if b.Empty() || other.Empty() {
		return false
	}
	return b.X < other.Right() && other.X < b.Right() &&
		b.Y < other.Bottom() && other.Y < b.Bottom()
}

// Clamp restricts the box to the [0,0,width,height) image bounds.
func (b Box) Clamp(width, height int) Box {
	x1 := maxInt(b.X, 0)
	y1 := maxInt(b.Y, 0)
	x2 := minInt(b.Right(), width)
	y2 := minInt(b.Bottom(), height)
	if x2 <= x1 || y2 <= y1 {
		return Box{}
	}
	return Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Inflate grows the box by pad pixels on every side.
func (b Box) Inflate(pad int) Box {
	return Box{
		X:      b.X - pad,
		Y:      b.Y - pad,
		Width:  b.Width + 2*pad,
		Height: b.Height + 2*pad,
	}
}

// Scale multiplies all coordinates by factor, rounding to nearest.
func (b Box) Scale(factor float64) Box {
	return Box{
		X:      int(float64(b.X)*factor + 0.5),
		Y:      int(float64(b.Y)*factor + 0.5),
		Width:  int(float64(b.Width)*factor + 0.5),
		Height: int(float64(b.Height)*factor + 0.5),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
