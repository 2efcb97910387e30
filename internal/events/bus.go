package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// Topic suffixes consumed by reporting.
const (
	TopicGraded = "attempt.graded"
	TopicClosed = "attempt.closed"
)

// Metadata keys set on every bus message.
const (
	MetadataEventType    = "event_type"
	MetadataAttemptID    = "attempt_id"
	MetadataAssessmentID = "assessment_id"
)

// NewBus opens the message publisher selected by cfg.EventsDriver. The
// gochannel driver also returns its subscriber so in-process consumers can
// read the same topics. The none driver returns a nil publisher.
func NewBus(cfg *config.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	switch cfg.EventsDriver {
	case config.EventsDriverNone, "":
		return nil, nil, nil
	case config.EventsDriverChannel:
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return pubSub, pubSub, nil
	case config.EventsDriverKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, fmt.Errorf("kafka events driver needs KAFKA_BROKERS")
		}
		// Keyed by attempt so one attempt's events stay ordered.
		marshaler := kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
			return msg.Metadata.Get(MetadataAttemptID), nil
		})
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			Marshaler: marshaler,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		return pub, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown events driver %q", cfg.EventsDriver)
}

// BusPublisher forwards graded and closing events to the message bus.
// Progress events stay on the live channels only.
type BusPublisher struct {
	pub    message.Publisher
	prefix string
}

func NewBusPublisher(pub message.Publisher, topicPrefix string) *BusPublisher {
	return &BusPublisher{pub: pub, prefix: topicPrefix}
}

// Topic returns the full topic name for a suffix.
func (p *BusPublisher) Topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

func topicFor(t model.AttemptEventType) (string, bool) {
	switch t {
	case model.EventAttemptGraded:
		return TopicGraded, true
	case model.EventAttemptSubmitted, model.EventAttemptExpired, model.EventAttemptAbandoned:
		return TopicClosed, true
	}
	return "", false
}

func (p *BusPublisher) Publish(ctx context.Context, ev *model.AttemptEvent) error {
	suffix, ok := topicFor(ev.Type)
	if !ok {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEventType, string(ev.Type))
	msg.Metadata.Set(MetadataAttemptID, ev.AttemptID.String())
	msg.Metadata.Set(MetadataAssessmentID, ev.AssessmentID)

	if err := p.pub.Publish(p.Topic(suffix), msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (p *BusPublisher) Close() error {
	return p.pub.Close()
}
