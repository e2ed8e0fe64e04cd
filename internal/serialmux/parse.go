package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/stopline/internal/stopline"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	EventTypePose    = "pose"
	EventTypePath    = "path"
	EventTypeLights  = "lights"
	EventTypeImage   = "image"
	EventTypeUnknown = "unknown"
)

// ErrUnknownEvent is returned by DecodeEvent for lines whose type is not one
// of the EventType constants.
var ErrUnknownEvent = errors.New("unknown event type")

// point is a position on the wire. Z is optional and defaults to 0.
type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type light struct {
	ID    string               `json:"id,omitempty"`
	X     float64              `json:"x"`
	Y     float64              `json:"y"`
	State *stopline.LightColor `json:"state,omitempty"`
}

type image struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Encoding string `json:"encoding"`
	Data     []byte `json:"data"` // base64 in JSON
}

// envelope is one event line, for example
//
//	{"type":"pose","pose":{"x":1.5,"y":2,"z":0}}
//	{"type":"lights","lights":[{"x":1148.56,"y":1184.65,"state":"RED"}]}
type envelope struct {
	Type   string  `json:"type"`
	Pose   *point  `json:"pose,omitempty"`
	Path   []point `json:"path,omitempty"`
	Lights []light `json:"lights,omitempty"`
	Image  *image  `json:"image,omitempty"`
}

// ClassifyPayload returns the event type token of a line without decoding
// its body. Lines that are not JSON objects, or carry an unrecognised type,
// are EventTypeUnknown.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return EventTypeUnknown
	}
	switch t := strings.ToLower(head.Type); t {
	case EventTypePose, EventTypePath, EventTypeLights, EventTypeImage:
		return t
	default:
		return EventTypeUnknown
	}
}

// DecodeEvent parses one event line into the matching stopline.Event.
func DecodeEvent(payload string) (stopline.Event, error) {
	var env envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	switch strings.ToLower(env.Type) {
	case EventTypePose:
		if env.Pose == nil {
			return nil, fmt.Errorf("pose event missing pose")
		}
		return stopline.PoseEvent{Position: r3.Vec{X: env.Pose.X, Y: env.Pose.Y, Z: env.Pose.Z}}, nil

	case EventTypePath:
		points := make([]r3.Vec, len(env.Path))
		for i, p := range env.Path {
			points[i] = r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
		}
		return stopline.PathEvent{Points: points}, nil

	case EventTypeLights:
		lights := make([]stopline.LightObservation, len(env.Lights))
		for i, l := range env.Lights {
			color := stopline.Unknown
			if l.State != nil {
				color = *l.State
			}
			lights[i] = stopline.LightObservation{
				ID:       l.ID,
				Position: r2.Vec{X: l.X, Y: l.Y},
				Color:    color,
			}
		}
		return stopline.LightsEvent{Lights: lights}, nil

	case EventTypeImage:
		var frame stopline.Frame
		if env.Image != nil {
			frame = stopline.Frame{
				Width:    env.Image.Width,
				Height:   env.Image.Height,
				Encoding: env.Image.Encoding,
				Data:     env.Image.Data,
			}
		}
		return stopline.FrameEvent{Frame: frame}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// EncodePose, EncodePath, EncodeLights and EncodeImage produce event lines
// in the format DecodeEvent reads. They are used to build fixtures.

func EncodePose(p r3.Vec) string {
	return mustEncode(envelope{Type: EventTypePose, Pose: &point{X: p.X, Y: p.Y, Z: p.Z}})
}

func EncodePath(points []r3.Vec) string {
	env := envelope{Type: EventTypePath, Path: make([]point, len(points))}
	for i, p := range points {
		env.Path[i] = point{X: p.X, Y: p.Y, Z: p.Z}
	}
	return mustEncode(env)
}

func EncodeLights(obs []stopline.LightObservation) string {
	env := envelope{Type: EventTypeLights, Lights: make([]light, len(obs))}
	for i, o := range obs {
		color := o.Color
		env.Lights[i] = light{ID: o.ID, X: o.Position.X, Y: o.Position.Y, State: &color}
	}
	return mustEncode(env)
}

func EncodeImage(f stopline.Frame) string {
	return mustEncode(envelope{Type: EventTypeImage, Image: &image{
		Width:    f.Width,
		Height:   f.Height,
		Encoding: f.Encoding,
		Data:     f.Data,
	}})
}

func mustEncode(env envelope) string {
	b, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("serialmux: encode %s event: %v", env.Type, err))
	}
	return string(b)
}
