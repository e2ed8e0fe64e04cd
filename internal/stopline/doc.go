// Package stopline decides, from a stream of traffic-light observations and
// the vehicle pose on a closed path, whether the vehicle must stop and at
// which path index.
//
// Responsibilities: nearest-point lookup on the path (PathIndex), lazy
// binding of observed lights to stop lines (AssociationCache), circular
// nearest-ahead selection (SelectAhead), and hysteresis on the raw
// per-frame decision (Debouncer). Loop composes them and Dispatcher gives
// the loop a single owning goroutine.
//
// Dependency rule: no transport, storage or HTTP code in this package.
// Collaborators are injected through the Classifier, Publisher and
// AssociationObserver interfaces.
package stopline
