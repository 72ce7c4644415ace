package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/msgcodec"
)

// Exchange is the topic exchange pushes are published to. Each agent's
// pushes use the routing key "agent.<id>".
const Exchange = "claimsync.events"

// zstdEncoding marks compressed message bodies.
const zstdEncoding = "zstd"

// RoutingKey returns the routing key of agentID's pushes.
func RoutingKey(agentID string) string {
	return "agent." + agentID
}

// AMQPTransport consumes pushes from a RabbitMQ broker. Each stream gets
// its own exclusive auto-delete queue bound to the agent's routing key, so
// closing the stream drops the queue.
type AMQPTransport struct {
	URL string
}

// NewAMQPTransport returns a transport for the broker at url. When url has
// no credentials, the agent id and token are used as broker credentials.
func NewAMQPTransport(url string) *AMQPTransport {
	return &AMQPTransport{URL: url}
}

func (t *AMQPTransport) Dial(ctx context.Context, agentID, token string) (Stream, error) {
	cfg, err := amqpConfig(t.URL, agentID, token)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(t.URL, cfg)
	if err != nil {
		if errors.Is(err, amqp.ErrCredentials) || isAccessRefused(err) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	s, err := openConsumer(conn, agentID)
	if err != nil {
		_ = conn.Close()
		if isAccessRefused(err) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return s, nil
}

func amqpConfig(rawURL, agentID, token string) (amqp.Config, error) {
	if _, err := amqp.ParseURI(rawURL); err != nil {
		return amqp.Config{}, fmt.Errorf("parse amqp url: %w", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return amqp.Config{}, fmt.Errorf("parse amqp url: %w", err)
	}
	cfg := amqp.Config{
		Properties: amqp.NewConnectionProperties(),
	}
	cfg.Properties.SetClientConnectionName("claimsync-agent-" + agentID)
	if u.User == nil {
		cfg.SASL = []amqp.Authentication{&amqp.PlainAuth{Username: agentID, Password: token}}
	}
	return cfg, nil
}

func openConsumer(conn *amqp.Connection, agentID string) (*amqpStream, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("claimsync.agent."+uuid.NewString(), false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, RoutingKey(agentID), Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return &amqpStream{
		conn:       conn,
		deliveries: deliveries,
		closed:     conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

func isAccessRefused(err error) bool {
	var ae *amqp.Error
	return errors.As(err, &ae) && ae.Code == amqp.AccessRefused
}

type amqpStream struct {
	conn       *amqp.Connection
	deliveries <-chan amqp.Delivery
	closed     chan *amqp.Error
}

func (s *amqpStream) Next(ctx context.Context) (claims.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return claims.Event{}, ctx.Err()
		case aerr, ok := <-s.closed:
			if ok && aerr != nil {
				if aerr.Code == amqp.AccessRefused {
					return claims.Event{}, ErrUnauthenticated
				}
				return claims.Event{}, fmt.Errorf("broker closed connection: %w", aerr)
			}
			return claims.Event{}, fmt.Errorf("broker connection closed")
		case d, ok := <-s.deliveries:
			if !ok {
				return claims.Event{}, fmt.Errorf("delivery channel closed")
			}
			compression := msgcodec.CompressionNone
			if d.ContentEncoding == zstdEncoding {
				compression = msgcodec.CompressionZstd
			}
			ev, err := Decode(d.Body, compression)
			if err != nil {
				slog.Warn("dropping malformed push message", "error", err, "message_id", d.MessageId)
				continue
			}
			return ev, nil
		}
	}
}

func (s *amqpStream) Close() error {
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}

// AMQPPublisher publishes pushes to the exchange. It is safe for concurrent
// use.
type AMQPPublisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher connects to the broker at url and declares the exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch}, nil
}

// Publish sends env to agentID's routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, agentID string, env Envelope, compress bool) error {
	body, compression, err := Encode(env, compress)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.Meta.ID,
		Type:        env.Meta.Type,
		Timestamp:   env.Meta.Time,
		AppId:       env.Meta.Producer,
		Body:        body,
	}
	if compression == msgcodec.CompressionZstd {
		msg.ContentEncoding = zstdEncoding
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, Exchange, RoutingKey(agentID), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", env.Meta.Type, err)
	}
	return nil
}

// Close closes the broker connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
