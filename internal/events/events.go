// Package events publishes task lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"pdf2md/internal/domain"
)

const (
	TypeStarted   = "task.started"
	TypeCompleted = "task.completed"
	TypeFailed    = "task.failed"
)

type Event struct {
	Type     string          `json:"type"`
	TaskID   string          `json:"task_id"`
	Filename string          `json:"filename"`
	TaskType string          `json:"task_type"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Summary  *domain.Summary `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// FromTask builds an event of the given type from a task snapshot.
func FromTask(eventType string, task domain.Task, at time.Time) Event {
	evt := Event{
		Type:     eventType,
		TaskID:   task.ID,
		Filename: task.SourceName,
		TaskType: task.TaskType,
		Status:   string(task.Status),
		Progress: task.Progress,
		Error:    task.Error,
		At:       at,
	}
	if task.Result != nil {
		summary := task.Result.Summary
		evt.Summary = &summary
	}
	return evt
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, domain.ConfigError("kafka publisher needs at least one broker", nil)
	}
	if cfg.Topic == "" {
		return nil, domain.ConfigError("kafka publisher needs a topic", nil)
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for task %s: %w", evt.Type, evt.TaskID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode keys messages by task id so one task's events stay on one partition.
func Encode(evt Event) (kafka.Message, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	return kafka.Message{
		Key:     []byte(evt.TaskID),
		Value:   payload,
		Time:    evt.At,
		Headers: []kafka.Header{{Key: "type", Value: []byte(evt.Type)}},
	}, nil
}
