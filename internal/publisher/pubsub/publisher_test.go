package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	topics   []string
	messages []*pubsub.Message
	err      error
	stopped  bool
}

func (f *fakeSender) send(_ context.Context, topic string, msg *pubsub.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, msg)
	return "server-id", nil
}

func (f *fakeSender) stop() { f.stopped = true }

func TestPublishMarshalsPayloadAndRoutesByTopic(t *testing.T) {
	t.Parallel()

	fake := &fakeSender{}
	p := &Publisher{prefix: "search-", sender: fake}

	id, err := p.Publish(context.Background(), "clean_queue", map[string]string{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "server-id", id)
	require.Len(t, fake.messages, 1)
	assert.Equal(t, []string{"search-clean_queue"}, fake.topics)
	assert.Equal(t, "clean_queue", fake.messages[0].Attributes[AttrTopic])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(fake.messages[0].Data, &decoded))
	assert.Equal(t, "https://example.com", decoded["url"])

	p.Close()
	assert.True(t, fake.stopped)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", 1)
	require.Error(t, err)

	p := &Publisher{sender: &fakeSender{}}
	_, err = p.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	p = &Publisher{sender: &fakeSender{err: errors.New("unavailable")}}
	_, err = p.Publish(context.Background(), "t", 1)
	require.ErrorContains(t, err, "unavailable")
}
