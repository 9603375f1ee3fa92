// Package events carries auth audit events and session reports over a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahmedmanch666/slam/internal/models"
)

const (
	KindAuth          = "auth"
	KindSessionReport = "session_report"
)

// Message is the flat form of a stream entry. go-redis only encodes scalar
// field values, so the report travels as a JSON string in Payload.
type Message struct {
	Kind    string `json:"kind"`
	Event   string `json:"event,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	At      string `json:"at"`
	Payload string `json:"payload,omitempty"`
}

func AuthMessage(event models.AuthEvent) Message {
	return Message{
		Kind:   KindAuth,
		Event:  string(event.Type),
		UserID: event.UserID,
		Email:  event.Email,
		At:     event.At.UTC().Format(time.RFC3339Nano),
	}
}

func ReportMessage(stats models.SessionStats) (Message, error) {
	payload, err := json.Marshal(stats)
	if err != nil {
		return Message{}, fmt.Errorf("encode report: %w", err)
	}
	return Message{
		Kind:    KindSessionReport,
		At:      stats.GeneratedAt.UTC().Format(time.RFC3339Nano),
		Payload: string(payload),
	}, nil
}

func (m Message) Values() map[string]any {
	values := map[string]any{
		"kind": m.Kind,
		"at":   m.At,
	}
	if m.Event != "" {
		values["event"] = m.Event
	}
	if m.UserID != "" {
		values["user_id"] = m.UserID
	}
	if m.Email != "" {
		values["email"] = m.Email
	}
	if m.Payload != "" {
		values["payload"] = m.Payload
	}
	return values
}

func Decode(values map[string]interface{}) (Message, error) {
	bytes, err := json.Marshal(values)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(bytes, &msg); err != nil {
		return Message{}, err
	}
	if msg.Kind == "" {
		return Message{}, fmt.Errorf("message has no kind")
	}
	return msg, nil
}

func (m Message) AuthEvent() (models.AuthEvent, error) {
	at, err := time.Parse(time.RFC3339Nano, m.At)
	if err != nil {
		return models.AuthEvent{}, fmt.Errorf("parse event time: %w", err)
	}
	return models.AuthEvent{
		Type:   models.AuthEventType(m.Event),
		UserID: m.UserID,
		Email:  m.Email,
		At:     at,
	}, nil
}

func (m Message) Report() (models.SessionStats, error) {
	var stats models.SessionStats
	if err := json.Unmarshal([]byte(m.Payload), &stats); err != nil {
		return models.SessionStats{}, fmt.Errorf("decode report: %w", err)
	}
	return stats, nil
}

type Publisher struct {
	client *redis.Client
	stream string
}

func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream}
}

func (p *Publisher) Publish(ctx context.Context, event models.AuthEvent) error {
	return p.add(ctx, AuthMessage(event))
}

func (p *Publisher) PublishReport(ctx context.Context, stats models.SessionStats) error {
	msg, err := ReportMessage(stats)
	if err != nil {
		return err
	}
	return p.add(ctx, msg)
}

func (p *Publisher) add(ctx context.Context, msg Message) error {
	if p == nil || p.client == nil {
		return nil
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: msg.Values(),
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
