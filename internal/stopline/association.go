package stopline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultLightKeyTolerance is the grid size, in metres, used to quantize
// light positions into association keys when no stable ID is available.
// Reports of the same light that jitter by less than half of it share a key.
const DefaultLightKeyTolerance = 0.01

// LightKey identifies a physical light. Either ID is set, or the position
// quantized to the key tolerance is used.
type LightKey struct {
	ID string
	QX int64
	QY int64
}

func (k LightKey) String() string {
	if k.ID != "" {
		return "id:" + k.ID
	}
	return fmt.Sprintf("q:%d,%d", k.QX, k.QY)
}

// MarshalText encodes the key as its String form.
func (k LightKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KeyFor builds the association key for an observation.
func KeyFor(obs LightObservation, tolerance float64) LightKey {
	if obs.ID != "" {
		return LightKey{ID: obs.ID}
	}
	if tolerance <= 0 {
		tolerance = DefaultLightKeyTolerance
	}
	return LightKey{
		QX: int64(math.Round(obs.Position.X / tolerance)),
		QY: int64(math.Round(obs.Position.Y / tolerance)),
	}
}

// AssociationCache binds each observed light to its controlling stop line
// and that stop line's path index. The binding is computed once per light;
// later sightings only refresh the color.
type AssociationCache struct {
	stopLines []r2.Vec
	tolerance float64

	byKey   map[LightKey]int
	entries []Association
}

// NewAssociationCache creates an empty cache over the configured stop lines.
func NewAssociationCache(stopLines []r2.Vec, tolerance float64) *AssociationCache {
	if tolerance <= 0 {
		tolerance = DefaultLightKeyTolerance
	}
	return &AssociationCache{
		stopLines: stopLines,
		tolerance: tolerance,
		byKey:     make(map[LightKey]int),
	}
}

// Update applies one light batch. It is a no-op while path is empty.
// Returns the associations created by this call, in observation order.
func (c *AssociationCache) Update(observations []LightObservation, path *PathIndex, tick uint64) []Association {
	if path.Len() == 0 {
		return nil
	}
	var created []Association
	for _, obs := range observations {
		key := KeyFor(obs, c.tolerance)
		if i, ok := c.byKey[key]; ok {
			c.entries[i].LastColor = obs.Color.Normalize()
			continue
		}
		stop, ok := c.nearestStopLine(obs.Position)
		if !ok {
			continue
		}
		a := Association{
			Key:           key,
			Position:      obs.Position,
			StopLine:      stop,
			PathIndex:     path.LocatePlanar(c.stopLines[stop]),
			LastColor:     obs.Color.Normalize(),
			FirstSeenTick: tick,
		}
		c.byKey[key] = len(c.entries)
		c.entries = append(c.entries, a)
		created = append(created, a)
	}
	return created
}

// nearestStopLine returns the index of the stop line closest to p, lowest
// index on ties.
func (c *AssociationCache) nearestStopLine(p r2.Vec) (int, bool) {
	if len(c.stopLines) == 0 {
		return 0, false
	}
	best := 0
	bestDist := distance2(p, c.stopLines[0])
	for i := 1; i < len(c.stopLines); i++ {
		if d := distance2(p, c.stopLines[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, true
}

// Lookup returns the association for key.
func (c *AssociationCache) Lookup(key LightKey) (Association, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Association{}, false
	}
	return c.entries[i], true
}

// Len returns the number of associations.
func (c *AssociationCache) Len() int {
	return len(c.entries)
}

// Entries returns a copy of all associations in insertion order.
func (c *AssociationCache) Entries() []Association {
	out := make([]Association, len(c.entries))
	copy(out, c.entries)
	return out
}

// StopLines returns the configured stop line positions.
func (c *AssociationCache) StopLines() []r2.Vec {
	return c.stopLines
}

// Reset drops every association. Used when the path is replaced, since the
// stored path indices refer to the old path.
func (c *AssociationCache) Reset() {
	c.byKey = make(map[LightKey]int)
	c.entries = nil
}
