package stopline

// Debouncer turns the raw per-frame (color, path index) decision into a
// stable stop index. A color has to be seen Threshold times in a row before
// it is confirmed; until then the last emitted value is held. A confirmed
// color other than red always emits NoStop, so an index seen alongside a
// non-red color is never published.
//
// The first sample after construction or Reset counts towards its own run.
// After that, a sample that changes color starts a new run at zero. With a
// threshold of 3, a change into red takes effect on the fourth frame.
type Debouncer struct {
	Threshold int

	candidate    LightColor
	hasCandidate bool
	count        int

	confirmed    LightColor
	hasConfirmed bool
	lastEmitted  int
}

// NewDebouncer returns a Debouncer with the given threshold; values below 1
// select DefaultStateCountThreshold.
func NewDebouncer(threshold int) *Debouncer {
	if threshold < 1 {
		threshold = DefaultStateCountThreshold
	}
	return &Debouncer{
		Threshold:   threshold,
		candidate:   Unknown,
		confirmed:   Unknown,
		lastEmitted: NoStop,
	}
}

// Observe feeds one raw sample and returns the stop index to publish.
func (d *Debouncer) Observe(color LightColor, pathIndex int) int {
	if !d.hasCandidate || color == d.candidate {
		d.count++
	} else {
		d.count = 0
	}
	d.candidate = color
	d.hasCandidate = true

	if d.count < d.Threshold {
		return d.lastEmitted
	}
	d.confirmed = d.candidate
	d.hasConfirmed = true
	if d.confirmed == Red {
		d.lastEmitted = pathIndex
	} else {
		d.lastEmitted = NoStop
	}
	return d.lastEmitted
}

// Confirmed returns the confirmed color and whether any color has been
// confirmed yet.
func (d *Debouncer) Confirmed() (LightColor, bool) {
	return d.confirmed, d.hasConfirmed
}

// Candidate returns the color currently being counted and its run length.
func (d *Debouncer) Candidate() (LightColor, int) {
	return d.candidate, d.count
}

// LastEmitted returns the value most recently returned by Observe.
func (d *Debouncer) LastEmitted() int {
	return d.lastEmitted
}

// Reset returns the debouncer to its initial state.
func (d *Debouncer) Reset() {
	threshold := d.Threshold
	*d = *NewDebouncer(threshold)
}
