package stopline

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// PathIndex answers nearest-point queries on a closed path.
//
// Queries from a moving vehicle are answered by a warm lookup that walks
// forward from the previously found index. The walk assumes the vehicle
// only advances along the path between calls and that distance to the
// query is unimodal around it; it gives wrong answers when the vehicle
// moves backwards relative to path order.
type PathIndex struct {
	points []r3.Vec
	last   int
	warm   bool
}

// NewPathIndex wraps points. The slice is not copied and must not be
// modified afterwards.
func NewPathIndex(points []r3.Vec) *PathIndex {
	return &PathIndex{points: points}
}

// Len returns the number of path points.
func (p *PathIndex) Len() int {
	if p == nil {
		return 0
	}
	return len(p.points)
}

// Point returns the path point at index i.
func (p *PathIndex) Point(i int) r3.Vec {
	return p.points[i]
}

// Points returns the underlying path points. Callers must not modify them.
func (p *PathIndex) Points() []r3.Vec {
	if p == nil {
		return nil
	}
	return p.points
}

// Last returns the most recently located index and whether one exists.
func (p *PathIndex) Last() (int, bool) {
	return p.last, p.warm
}

// Forget drops the remembered index so the next Locate is a cold lookup.
func (p *PathIndex) Forget() {
	p.last = 0
	p.warm = false
}

// Locate returns the index of the path point closest to q and remembers it
// for the next call. An empty path yields 0.
func (p *PathIndex) Locate(q r3.Vec) int {
	n := p.Len()
	if n == 0 {
		return 0
	}
	var best int
	if p.warm && p.last < n {
		best = p.walkForward(q, p.last)
	} else {
		best = p.LocateCold(q)
	}
	p.last = best
	p.warm = true
	return best
}

// LocateCold scans every point and returns the closest to q, lowest index
// on ties. It does not touch the remembered index.
func (p *PathIndex) LocateCold(q r3.Vec) int {
	best := 0
	bestDist := 0.0
	for i, pt := range p.Points() {
		d := distance3(q, pt)
		if i == 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// LocatePlanar is LocateCold using only the horizontal components, for
// matching 2-D map features such as stop lines against the path.
func (p *PathIndex) LocatePlanar(q r2.Vec) int {
	best := 0
	bestDist := 0.0
	for i, pt := range p.Points() {
		d := distance2(q, planar(pt))
		if i == 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// walkForward starts at from+1 and advances while the distance strictly
// decreases. At most n steps are taken.
func (p *PathIndex) walkForward(q r3.Vec, from int) int {
	n := len(p.points)
	best := from
	bestDist := distance3(q, p.points[from])
	for step := 1; step < n; step++ {
		i := (from + step) % n
		d := distance3(q, p.points[i])
		if d >= bestDist {
			break
		}
		best, bestDist = i, d
	}
	return best
}

func distance3(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

func distance2(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}
