package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const retryHeader = "x-retry-count"

// AMQPQueue maps topics onto durable RabbitMQ queues. Handlers receive the
// message body as json.RawMessage; a failing handler causes the message to be
// republished with an incremented x-retry-count until MaxRetries is reached,
// after which it is rejected.
type AMQPQueue struct {
	conn *amqp.Connection

	mu  sync.Mutex
	pub *amqp.Channel

	log        *zap.Logger
	MaxRetries int
}

func DialAMQP(url string, log *zap.Logger, maxRetries int) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return &AMQPQueue{conn: conn, pub: pub, log: log, MaxRetries: maxRetries}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retry int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := declare(q.pub, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retry},
		Body:         body,
	})
}

// Subscribe starts a consumer on its own channel. It returns once the
// consumer is registered; deliveries are handled on a background goroutine
// until the connection closes.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		for d := range msgs {
			q.handle(topic, d, handler)
		}
		q.log.Info("consumer stopped", zap.String("topic", topic))
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler func(payload any) error) {
	err := handler(json.RawMessage(d.Body))
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retry := retryCount(d.Headers)
	if retry >= q.MaxRetries {
		q.log.Error("❌ message permanently failed",
			zap.String("topic", topic), zap.Int("attempts", retry+1), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	q.log.Warn("message failed, requeueing",
		zap.String("topic", topic), zap.Int("retry", retry+1), zap.Error(err))
	if perr := q.publish(topic, d.Body, int32(retry+1)); perr != nil {
		q.log.Error("requeue failed, returning message to broker", zap.String("topic", topic), zap.Error(perr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// NotifyClose reports when the broker connection goes away.
func (q *AMQPQueue) NotifyClose() <-chan *amqp.Error {
	return q.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	q.pub.Close()
	q.mu.Unlock()
	return q.conn.Close()
}

// retryCount reads x-retry-count; AMQP tables may decode integers at any width.
func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

var _ Queue = (*AMQPQueue)(nil)
