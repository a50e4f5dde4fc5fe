package infrastructure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/social-dl-go/internal/domain"
)

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []publishedMessage
	closed    bool
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.published = append(c.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPEventPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPEventPublisher{exchange: "social-dl.events", channel: ch}

	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	event := domain.SessionEvent{
		Type:       domain.EventCompleted,
		Session:    domain.DownloadSession{ID: "s1", URL: "https://www.tiktok.com/@a/video/1", State: domain.StateCompleted},
		OccurredAt: at,
	}
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "social-dl.events", got.exchange)
	assert.Equal(t, "session.completed", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "s1.completed", got.msg.MessageId)
	assert.Equal(t, at, got.msg.Timestamp)

	var decoded domain.SessionEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, domain.EventCompleted, decoded.Type)
	assert.Equal(t, "s1", decoded.Session.ID)
}

func TestAMQPEventPublisher_Closed(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPEventPublisher{exchange: "x", channel: ch}

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.Error(t, p.Publish(context.Background(), domain.SessionEvent{Type: domain.EventFailed}))
	assert.NoError(t, p.Close(), "closing twice is harmless")
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "session.started", RoutingKey(domain.EventStarted))
	assert.Equal(t, "session.expired", RoutingKey(domain.EventExpired))
}
