package types

// Channel names the three independent fan-out streams.
type Channel string

const (
	ChannelAudioBytes   Channel = "audio_bytes"
	ChannelTranscript   Channel = "transcript"
	ChannelConversation Channel = "conversation"
)

// OverflowPolicy decides what happens when a subscriber queue is full.
// Only Block subscribers apply backpressure upstream.
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop_oldest"
	DropNewest OverflowPolicy = "drop_newest"
	Block      OverflowPolicy = "block"
)

// Subscription declares one integration's interest in a channel.
type Subscription struct {
	SubscriberID string         `json:"subscriber_id"`
	Channel      Channel        `json:"channel"`
	QueueCap     int            `json:"queue_capacity"`
	Policy       OverflowPolicy `json:"overflow_policy"`
	SampleRate   int            `json:"sample_rate,omitempty"` // audio_bytes expectation, 0 = session rate
}
