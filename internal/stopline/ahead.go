package stopline

// Ahead is the association whose stop line the vehicle reaches first.
type Ahead struct {
	Association
	Distance int // forward distance in path indices
}

// ForwardDistance is the number of indices travelled from car to target on
// a closed path of n points, always in [0, n).
func ForwardDistance(car, target, n int) int {
	if n <= 0 {
		return 0
	}
	d := (target - car) % n
	if d < 0 {
		d += n
	}
	return d
}

// SelectAhead finds the association with the smallest forward distance from
// carIndex. Ties go to the lowest path index, then to the association seen
// first. It reports false when there is nothing to select.
func SelectAhead(entries []Association, carIndex, n int) (Ahead, bool) {
	if n <= 0 || len(entries) == 0 {
		return Ahead{}, false
	}
	var best Ahead
	found := false
	for _, a := range entries {
		d := ForwardDistance(carIndex, a.PathIndex, n)
		if !found || d < best.Distance || (d == best.Distance && a.PathIndex < best.PathIndex) {
			best = Ahead{Association: a, Distance: d}
			found = true
		}
	}
	return best, found
}

// SelectAhead runs SelectAhead over the cache contents.
func (c *AssociationCache) SelectAhead(carIndex, n int) (Ahead, bool) {
	return SelectAhead(c.entries, carIndex, n)
}
