package stopline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// NoStop is the published stop index meaning no red light ahead requires
// stopping.
const NoStop = -1

// DefaultStateCountThreshold is the number of consecutive identical raw
// colors needed before a color is trusted.
const DefaultStateCountThreshold = 3

// LightColor is the color state of a traffic light. Values follow the
// upstream traffic light message numbering.
type LightColor int

const (
	Red     LightColor = 0
	Yellow  LightColor = 1
	Green   LightColor = 2
	Unknown LightColor = 4
)

func (c LightColor) String() string {
	switch c {
	case Red:
		return "RED"
	case Yellow:
		return "YELLOW"
	case Green:
		return "GREEN"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether c is a positive identification.
func (c LightColor) Valid() bool {
	return c == Red || c == Yellow || c == Green
}

// ParseLightColor accepts a color name (case-insensitive). Anything it does
// not recognise is Unknown.
func ParseLightColor(s string) LightColor {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RED":
		return Red
	case "YELLOW", "AMBER":
		return Yellow
	case "GREEN":
		return Green
	default:
		return Unknown
	}
}

// Normalize maps out-of-range numeric values to Unknown.
func (c LightColor) Normalize() LightColor {
	if c.Valid() {
		return c
	}
	return Unknown
}

// MarshalJSON encodes the color by name.
func (c LightColor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts either the numeric wire value or the color name.
func (c *LightColor) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*c = LightColor(n).Normalize()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("light color must be a number or a name: %w", err)
	}
	*c = ParseLightColor(s)
	return nil
}

// LightObservation is one light reported in a light batch. ID is optional;
// when the upstream feed provides a stable identifier it is used as the
// association key instead of the position.
type LightObservation struct {
	ID       string
	Position r2.Vec
	Color    LightColor
}

// Association binds a physical light to the path index of its stop line.
// Only LastColor changes after creation.
type Association struct {
	Key           LightKey   `json:"key"`
	Position      r2.Vec     `json:"position"`
	StopLine      int        `json:"stop_line"`
	PathIndex     int        `json:"path_index"`
	LastColor     LightColor `json:"last_color"`
	FirstSeenTick uint64     `json:"first_seen_tick"`
}

// Signal is the output published once per camera frame.
type Signal struct {
	Tick           uint64     `json:"tick"`
	Time           time.Time  `json:"time"`
	StopIndex      int        `json:"stop_index"`
	CarIndex       int        `json:"car_index"`
	LightIndex     int        `json:"light_index"`
	RawColor       LightColor `json:"raw_color"`
	ConfirmedColor LightColor `json:"confirmed_color"`
	Confirmed      bool       `json:"confirmed"`
}

// Frame is an opaque camera image handed to the Classifier.
type Frame struct {
	Width    int
	Height   int
	Encoding string
	Data     []byte
}

// Classifier turns a camera frame into a light color. Implementations live
// outside this package; any error is treated as Unknown.
type Classifier interface {
	Classify(Frame) (LightColor, error)
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(Frame) (LightColor, error)

func (f ClassifierFunc) Classify(fr Frame) (LightColor, error) { return f(fr) }

// Publisher receives every published Signal.
type Publisher interface {
	Publish(Signal)
}

// AssociationObserver is notified once when a new light association is
// created.
type AssociationObserver interface {
	Associated(Association)
}

// planar drops the vertical component of p.
func planar(p r3.Vec) r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// MultiPublisher fans a Signal out to several publishers in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(s Signal) {
	for _, p := range m {
		if p != nil {
			p.Publish(s)
		}
	}
}
