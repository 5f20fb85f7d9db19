package delivery

import (
	"main/internal/model"
	"main/internal/model/enum"
)

// Channel is the sequence-number space and subscriber set of one
// (symbol, timeframe) pair.
type Channel struct {
	Symbol    string         `json:"symbol"`
	Timeframe enum.Timeframe `json:"timeframe"`
}

func (c Channel) String() string {
	return c.Symbol + ":" + c.Timeframe.String()
}

// SequencedMessage is one bar stamped with its per-channel sequence
// number. Sequences start at 1, are never reused, and never skip under
// normal operation; each channel's sequence space is independent.
type SequencedMessage struct {
	Channel      Channel           `json:"channel"`
	Sequence     int64             `json:"sequence"`
	Payload      model.Bar         `json:"payload"`
	Mode         enum.DeliveryMode `json:"mode"`
	EnqueuedAtMs int64             `json:"enqueued_at_ms"`
}

// Delivery is a SequencedMessage as observed by one client, tagged
// with delivery metadata.
type Delivery struct {
	Channel       Channel           `json:"channel"`
	Sequence      int64             `json:"sequence"`
	Payload       model.Bar         `json:"payload"`
	Mode          enum.DeliveryMode `json:"mode"`
	DeliveredAtMs int64             `json:"delivered_at_ms"`
	Catchup       bool              `json:"catchup"`
}
