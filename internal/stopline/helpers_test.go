package stopline

import (
	"math"
	"testing"

	"github.com/banshee-data/stopline/internal/monitoring"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// circlePath returns n points evenly spaced counter-clockwise on a circle of
// radius r centred on the origin, starting at (r, 0).
func circlePath(n int, r float64) []r3.Vec {
	pts := make([]r3.Vec, n)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = r3.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
	}
	return pts
}

func flat(p r3.Vec) r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// muteLogs silences monitoring output for the duration of the test.
func muteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

// recordingPublisher keeps every published signal.
type recordingPublisher struct {
	signals []Signal
}

func (r *recordingPublisher) Publish(s Signal) { r.signals = append(r.signals, s) }

func (r *recordingPublisher) stopIndices() []int {
	out := make([]int, len(r.signals))
	for i, s := range r.signals {
		out[i] = s.StopIndex
	}
	return out
}

// recordingObserver keeps every association it is told about.
type recordingObserver struct {
	created []Association
}

func (r *recordingObserver) Associated(a Association) { r.created = append(r.created, a) }
