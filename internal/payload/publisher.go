package payload

import (
	"github.com/srg/breathble/internal/stream"
)

// Publisher owns one output stream per field kind.
// Values are published independently; there is no combined record.
type Publisher struct {
	battery *stream.Broadcaster[Battery]
	usage   *stream.Broadcaster[UsageCount]
	alcohol *stream.Broadcaster[AlcoholContent]
	address *stream.Broadcaster[Address]
	all     *stream.Broadcaster[Value]
}

// NewPublisher creates a Publisher with no subscribers.
func NewPublisher() *Publisher {
	return &Publisher{
		battery: stream.NewBroadcaster[Battery](),
		usage:   stream.NewBroadcaster[UsageCount](),
		alcohol: stream.NewBroadcaster[AlcoholContent](),
		address: stream.NewBroadcaster[Address](),
		all:     stream.NewBroadcaster[Value](),
	}
}

// Publish routes v to its field stream and to the combined Values stream.
func (p *Publisher) Publish(v Value) {
	switch v := v.(type) {
	case Battery:
		p.battery.Publish(v)
	case UsageCount:
		p.usage.Publish(v)
	case AlcoholContent:
		p.alcohol.Publish(v)
	case Address:
		p.address.Publish(v)
	default:
		return
	}
	p.all.Publish(v)
}

// DecodeAndPublish decodes b and publishes the result. It reports the decoded
// value, or false when b was dropped as unrecognized.
func (p *Publisher) DecodeAndPublish(b []byte) (Value, bool) {
	v, ok := Decode(b)
	if !ok {
		return nil, false
	}
	p.Publish(v)
	return v, true
}

func (p *Publisher) Battery(buffer int) *stream.Subscription[Battery] {
	return p.battery.Subscribe(buffer)
}

func (p *Publisher) UsageCount(buffer int) *stream.Subscription[UsageCount] {
	return p.usage.Subscribe(buffer)
}

func (p *Publisher) AlcoholContent(buffer int) *stream.Subscription[AlcoholContent] {
	return p.alcohol.Subscribe(buffer)
}

func (p *Publisher) Address(buffer int) *stream.Subscription[Address] {
	return p.address.Subscribe(buffer)
}

// Values subscribes to every decoded value regardless of kind, in publish order.
func (p *Publisher) Values(buffer int) *stream.Subscription[Value] {
	return p.all.Subscribe(buffer)
}

// Close closes every field stream.
func (p *Publisher) Close() {
	p.battery.Close()
	p.usage.Close()
	p.alcohol.Close()
	p.address.Close()
	p.all.Close()
}
