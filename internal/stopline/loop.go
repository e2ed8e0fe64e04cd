package stopline

import (
	"errors"

	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/timeutil"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrEmptyPath is returned when a path message carries no points.
var ErrEmptyPath = errors.New("path has no points")

// LoopConfig holds the startup configuration and collaborators of a Loop.
type LoopConfig struct {
	StopLines           []r2.Vec
	StateCountThreshold int
	LightKeyTolerance   float64

	// Classifier is consulted when the ground-truth color of the light
	// ahead is unknown. Optional.
	Classifier Classifier
	// Publisher receives one Signal per frame. Optional.
	Publisher Publisher
	// Observer is told about every new association. Optional.
	Observer AssociationObserver
	// Clock stamps published signals. Defaults to the real clock.
	Clock timeutil.Clock
}

// Loop is the perception controller. It owns the path, the association
// cache and the debounce state. Handlers run to completion and must not be
// called concurrently; see Dispatcher.
type Loop struct {
	cfg LoopConfig

	path     *PathIndex
	cache    *AssociationCache
	debounce *Debouncer

	pose    r3.Vec
	hasPose bool

	frames  uint64
	batches uint64
	last    Signal

	noPathLog   monitoring.Throttle
	cacheLog    monitoring.Throttle
	carLog      monitoring.Throttle
	classifyLog monitoring.Throttle
}

// NewLoop builds a Loop from cfg.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	stopLines := make([]r2.Vec, len(cfg.StopLines))
	copy(stopLines, cfg.StopLines)
	return &Loop{
		cfg:         cfg,
		cache:       NewAssociationCache(stopLines, cfg.LightKeyTolerance),
		debounce:    NewDebouncer(cfg.StateCountThreshold),
		last:        Signal{StopIndex: NoStop, CarIndex: NoStop, LightIndex: NoStop, RawColor: Unknown, ConfirmedColor: Unknown},
		noPathLog:   monitoring.Throttle{Every: 256},
		cacheLog:    monitoring.Throttle{Every: 256},
		carLog:      monitoring.Throttle{Every: 128},
		classifyLog: monitoring.Throttle{Every: 64},
	}
}

// HandlePose records the latest vehicle position.
func (l *Loop) HandlePose(p r3.Vec) {
	l.pose = p
	l.hasPose = true
}

// HandlePath installs the path. A replacement path resets the warm lookup,
// every association and the debounce state, since all of them hold indices
// into the previous path.
func (l *Loop) HandlePath(points []r3.Vec) error {
	if len(points) == 0 {
		return ErrEmptyPath
	}
	owned := make([]r3.Vec, len(points))
	copy(owned, points)

	if l.path != nil {
		monitoring.Logf("[stopline] path replaced (%d -> %d points), dropping %d associations",
			l.path.Len(), len(owned), l.cache.Len())
		l.cache.Reset()
		l.debounce.Reset()
	} else {
		monitoring.Logf("[stopline] path received: %d points", len(owned))
	}
	l.path = NewPathIndex(owned)
	return nil
}

// HandleLights updates the association cache from one light batch. Batches
// that arrive before the path are dropped and retried with the next one.
func (l *Loop) HandleLights(observations []LightObservation) {
	l.batches++
	if l.path.Len() == 0 {
		l.noPathLog.Logf("[stopline] no path yet, skipping light batch %d", l.batches)
		return
	}
	for _, a := range l.cache.Update(observations, l.path, l.frames) {
		monitoring.Logf("[stopline] light %s bound to stop line %d at path index %d",
			a.Key, a.StopLine, a.PathIndex)
		if l.cfg.Observer != nil {
			l.cfg.Observer.Associated(a)
		}
	}
	if l.cacheLog.Allow() {
		for _, a := range l.cache.entries {
			monitoring.Logf("[stopline] light %s: path index %d, %s", a.Key, a.PathIndex, a.LastColor)
		}
	}
}

// HandleFrame runs one decision tick and publishes the resulting Signal.
func (l *Loop) HandleFrame(frame Frame) Signal {
	l.frames++
	sig := Signal{
		Tick:       l.frames,
		Time:       l.cfg.Clock.Now(),
		CarIndex:   NoStop,
		LightIndex: NoStop,
		RawColor:   Unknown,
	}

	if l.hasPose && l.path.Len() > 0 {
		sig.CarIndex = l.path.Locate(l.pose)
		if ahead, ok := l.cache.SelectAhead(sig.CarIndex, l.path.Len()); ok {
			sig.LightIndex = ahead.PathIndex
			sig.RawColor = ahead.LastColor
			if sig.RawColor == Unknown && l.cfg.Classifier != nil {
				sig.RawColor = l.classify(frame)
			}
			l.carLog.Logf("[stopline] car index %d, light ahead at %d (%d away), %s",
				sig.CarIndex, ahead.PathIndex, ahead.Distance, sig.RawColor)
		}
	}

	sig.StopIndex = l.debounce.Observe(sig.RawColor, sig.LightIndex)
	sig.ConfirmedColor, sig.Confirmed = l.debounce.Confirmed()
	l.last = sig
	if l.cfg.Publisher != nil {
		l.cfg.Publisher.Publish(sig)
	}
	return sig
}

// classify asks the classifier for a color; errors and anything that is not
// a positive identification count as Unknown.
func (l *Loop) classify(frame Frame) LightColor {
	c, err := l.cfg.Classifier.Classify(frame)
	if err != nil {
		l.classifyLog.Logf("[stopline] classifier failed: %v", err)
		return Unknown
	}
	return c.Normalize()
}

// Snapshot is a copy of the loop state for readers outside the owning
// goroutine.
type Snapshot struct {
	Signal       Signal        `json:"signal"`
	Associations []Association `json:"associations"`
	Path         []r3.Vec      `json:"-"`
	PathLen      int           `json:"path_len"`
	StopLines    []r2.Vec      `json:"stop_lines"`
	Pose         *r3.Vec       `json:"pose,omitempty"`
	Frames       uint64        `json:"frames"`
	LightBatches uint64        `json:"light_batches"`
}

// Snapshot copies the current state. The path slice is shared; it is never
// mutated once installed.
func (l *Loop) Snapshot() Snapshot {
	s := Snapshot{
		Signal:       l.last,
		Associations: l.cache.Entries(),
		Path:         l.path.Points(),
		PathLen:      l.path.Len(),
		StopLines:    append([]r2.Vec(nil), l.cache.StopLines()...),
		Frames:       l.frames,
		LightBatches: l.batches,
	}
	if l.hasPose {
		p := l.pose
		s.Pose = &p
	}
	return s
}
