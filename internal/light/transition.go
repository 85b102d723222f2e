package light

// Transition is an in-flight change from Start to Target over Total ticks.
// A light has at most one; a newer accepted write replaces it.
type Transition struct {
	Start   State
	Target  State
	Elapsed uint16
	Total   uint16
}

// Done reports whether the transition has run its full length.
func (t Transition) Done() bool {
	return t.Elapsed >= t.Total
}
