package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/messagequeue"
)

// Publisher implements nats.publish: it forwards the payload argument to
// tools.publish.<topic> wrapped with the caller's identity.
//
// Arguments: topic (string, required), payload (any).
type Publisher struct {
	queue messagequeue.Queue
}

// NewPublisher creates the nats.publish capability.
func NewPublisher(q messagequeue.Queue) *Publisher {
	return &Publisher{queue: q}
}

// PublishedMessage is the body written to tools.publish.<topic>.
type PublishedMessage struct {
	Topic     string `json:"topic"`
	UserID    string `json:"user_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// PublishResult is returned to the executor and stored on the task.
type PublishResult struct {
	Subject string `json:"subject"`
	Bytes   int    `json:"bytes"`
}

func (p *Publisher) Invoke(ctx context.Context, args map[string]any, cc tool.CallContext) (any, error) {
	topic, _ := args["topic"].(string)
	if err := validTopic(topic); err != nil {
		return nil, err
	}

	data, err := json.Marshal(PublishedMessage{
		Topic:     topic,
		UserID:    cc.UserID,
		EventID:   cc.EventID,
		EventType: cc.EventType,
		Payload:   args["payload"],
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	subject := messagequeue.SubjectToolPublish + "." + topic
	if err := p.queue.Publish(ctx, subject, data); err != nil {
		return nil, err
	}
	return PublishResult{Subject: subject, Bytes: len(data)}, nil
}

// validTopic rejects topics that would escape tools.publish or contain
// NATS wildcards.
func validTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if strings.ContainsAny(topic, "*> \t\r\n") {
		return fmt.Errorf("topic %q contains wildcard or whitespace", topic)
	}
	for _, tok := range strings.Split(topic, ".") {
		if tok == "" {
			return fmt.Errorf("topic %q has an empty token", topic)
		}
	}
	return nil
}
