package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
)

// AuditLog consumes bus topics in process and logs every domain event.
// With the gochannel driver it stands in for the reporting consumer.
type AuditLog struct {
	sub message.Subscriber
	log zerolog.Logger
}

func NewAuditLog(sub message.Subscriber, log zerolog.Logger) *AuditLog {
	return &AuditLog{sub: sub, log: log.With().Str("component", "event_audit").Logger()}
}

// Run subscribes to topics and blocks until ctx is cancelled.
func (a *AuditLog) Run(ctx context.Context, topics ...string) error {
	merged := make(chan *message.Message)
	for _, topic := range topics {
		msgs, err := a.sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		go func(topic string, msgs <-chan *message.Message) {
			for msg := range msgs {
				select {
				case merged <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}(topic, msgs)
	}

	a.log.Info().Strs("topics", topics).Msg("Event audit log started")
	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("Event audit log stopped")
			return nil
		case msg := <-merged:
			a.log.Info().
				Str("message_id", msg.UUID).
				Str("event", msg.Metadata.Get(MetadataEventType)).
				Str("attempt_id", msg.Metadata.Get(MetadataAttemptID)).
				Str("assessment_id", msg.Metadata.Get(MetadataAssessmentID)).
				Msg("Domain event")
			msg.Ack()
		}
	}
}
