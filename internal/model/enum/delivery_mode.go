package enum

// DeliveryMode tags a delivered message with the pipeline that produced it.
type DeliveryMode uint8

const (
	DeliveryModeLive DeliveryMode = iota
	DeliveryModeReplay
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryModeLive:
		return "LIVE"
	case DeliveryModeReplay:
		return "REPLAY"
	default:
		return "unknown"
	}
}
