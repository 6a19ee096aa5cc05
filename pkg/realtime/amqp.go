package realtime

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPSource consumes push events from a RabbitMQ topic exchange.
type AMQPSource struct {
	url      string
	exchange string
	queue    string
	keys     []string
	logger   *zap.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSource builds a consumer bound to exchange via keys. The connection is opened by Run.
func NewAMQPSource(url, exchange, queue string, keys []string, logger *zap.Logger) *AMQPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPSource{url: url, exchange: exchange, queue: queue, keys: keys, logger: logger}
}

func (s *AMQPSource) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(s.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range s.keys {
		if err := ch.QueueBind(q.Name, rk, s.exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	// one in-flight delivery keeps arrival order
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	s.queue = q.Name
	s.conn, s.ch = conn, ch
	return nil
}

// Run consumes deliveries until ctx is done, reconnecting when the broker drops.
func (s *AMQPSource) Run(ctx context.Context, sink Sink) error {
	delay := reconnectBaseDelay
	for ctx.Err() == nil {
		if err := s.connect(); err != nil {
			s.logger.Warn("amqp connect failed", zap.Duration("retry_in", delay), zap.Error(err))
			if !sleepCtx(ctx, delay) {
				return nil
			}
			delay = nextDelay(delay)
			continue
		}
		delay = reconnectBaseDelay

		deliveries, err := s.ch.ConsumeWithContext(ctx, s.queue, "", false, false, false, false, nil)
		if err != nil {
			s.logger.Warn("amqp consume failed", zap.Error(err))
			_ = s.Close()
			continue
		}
		s.logger.Info("amqp consuming", zap.String("queue", s.queue), zap.Strings("keys", s.keys))
		s.drain(deliveries, sink)
		_ = s.Close()
	}
	return nil
}

func (s *AMQPSource) drain(deliveries <-chan amqp.Delivery, sink Sink) {
	for d := range deliveries {
		msg, err := MessageFromDelivery(d)
		if err != nil {
			s.logger.Warn("dropping amqp delivery", zap.String("routing_key", d.RoutingKey), zap.Error(err))
			_ = d.Nack(false, false)
			continue
		}
		sink(msg)
		if err := d.Ack(false); err != nil {
			s.logger.Warn("amqp ack failed", zap.Error(err))
		}
	}
}

// MessageFromDelivery accepts either a full envelope body or a bare payload named by the delivery type.
func MessageFromDelivery(d amqp.Delivery) (Message, error) {
	if msg, err := DecodeEnvelope(d.Body); err == nil {
		return msg, nil
	}
	if d.Type == "" {
		return Message{}, fmt.Errorf("delivery %q has no event name", d.MessageId)
	}
	return Message{Name: d.Type, Payload: append([]byte(nil), d.Body...)}, nil
}

// Close releases the channel and connection.
func (s *AMQPSource) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		if err != nil && err != amqp.ErrClosed {
			return err
		}
	}
	return nil
}

