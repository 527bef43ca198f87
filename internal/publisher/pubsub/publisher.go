// Package pubsub mirrors bus messages to Google Cloud Pub/Sub, one Pub/Sub
// topic per bus topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// AttrTopic carries the originating bus topic on every mirrored message.
const AttrTopic = "bus_topic"

// sender delivers one message to a named Pub/Sub topic and waits for the
// server-assigned ID.
type sender interface {
	send(ctx context.Context, topic string, msg *pubsub.Message) (string, error)
	stop()
}

// Publisher implements crawler.Publisher.
type Publisher struct {
	prefix string
	sender sender
}

var _ crawler.Publisher = (*Publisher)(nil)

// New creates a Publisher that publishes bus topic T to Pub/Sub topic
// prefix+T through client.
func New(client *pubsub.Client, prefix string) *Publisher {
	return &Publisher{prefix: prefix, sender: &clientSender{client: client, publishers: map[string]*pubsub.Publisher{}}}
}

// Publish marshals the payload to JSON and publishes it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.sender == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{AttrTopic: topic},
	}
	id, err := p.sender.send(ctx, p.prefix+topic, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes and stops every topic publisher.
func (p *Publisher) Close() {
	if p != nil && p.sender != nil {
		p.sender.stop()
	}
}

type clientSender struct {
	client     *pubsub.Client
	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func (s *clientSender) send(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
	if s.client == nil {
		return "", errors.New("pubsub client is nil")
	}
	result := s.publisher(topic).Publish(ctx, msg)
	return result.Get(ctx)
}

func (s *clientSender) publisher(topic string) *pubsub.Publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.publishers[topic]
	if !ok {
		pub = s.client.Publisher(topic)
		s.publishers[topic] = pub
	}
	return pub
}

func (s *clientSender) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pub := range s.publishers {
		pub.Stop()
		delete(s.publishers, name)
	}
}
