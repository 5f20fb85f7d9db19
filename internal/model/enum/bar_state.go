package enum

// BarState is the lifecycle state of a bar.
// Forming is the only initial state. Confirmed is terminal for that
// bar instance; the next interval starts a new bar.
type BarState uint8

const (
	BarStateForming BarState = iota
	BarStateConfirmed
)

func (s BarState) String() string {
	switch s {
	case BarStateForming:
		return "FORMING"
	case BarStateConfirmed:
		return "CONFIRMED"
	default:
		return "unknown"
	}
}
