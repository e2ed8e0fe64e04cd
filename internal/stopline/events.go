package stopline

import "gonum.org/v1/gonum/spatial/r3"

// Event is one input delivered to the Loop.
type Event interface {
	Apply(*Loop) error
}

// PoseEvent carries the vehicle position.
type PoseEvent struct {
	Position r3.Vec
}

func (e PoseEvent) Apply(l *Loop) error {
	l.HandlePose(e.Position)
	return nil
}

// PathEvent carries the full path.
type PathEvent struct {
	Points []r3.Vec
}

func (e PathEvent) Apply(l *Loop) error {
	return l.HandlePath(e.Points)
}

// LightsEvent carries one batch of light observations.
type LightsEvent struct {
	Lights []LightObservation
}

func (e LightsEvent) Apply(l *Loop) error {
	l.HandleLights(e.Lights)
	return nil
}

// FrameEvent carries a camera frame and triggers a decision tick.
type FrameEvent struct {
	Frame Frame
}

func (e FrameEvent) Apply(l *Loop) error {
	l.HandleFrame(e.Frame)
	return nil
}
