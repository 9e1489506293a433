package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

func connectToRabbitMQ(ctx context.Context, url string) (*amqp.Connection, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = RetryDelay / 5
	policy.MaxInterval = RetryDelay

	var conn *amqp.Connection
	attempt := 0
	op := func() error {
		attempt++
		var err error
		conn, err = amqp.Dial(url)
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("failed to connect to rabbitmq", "attempt", attempt, "max_attempts", MaxConnectRetry, "retry_in", wait, "error", err)
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, MaxConnectRetry-1), ctx)
	if err := backoff.RetryNotify(op, retry, notify); err != nil {
		slog.Error("failed to connect to rabbitmq", "attempts", attempt, "error", err)
		return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", attempt, err)
	}

	slog.Info("connected to rabbitmq")
	return conn, nil
}

func declareExchange(channel *amqp.Channel) error {
	return channel.ExchangeDeclare(TasksReadyExchange, amqp.ExchangeFanout, true, false, false, false, nil)
}

type RabbitMQPublisher struct {
	connLock   sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	destructor sync.Once
	closed     chan struct{}
}

func NewRabbitMQPublisher(ctx context.Context, rabbitMQURL string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: rabbitMQURL, closed: make(chan struct{})}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect(ctx context.Context) error {
	conn, err := connectToRabbitMQ(ctx, p.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareExchange(channel); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq exchange %s: %w", TasksReadyExchange, err)
	}

	p.conn = conn
	p.channel = channel
	slog.Info("rabbitmq channel opened and exchange declared")

	go p.handleReconnect(channel)

	return nil
}

func (p *RabbitMQPublisher) handleReconnect(channel *amqp.Channel) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	err, ok := <-notifyClose
	if !ok { // channel is just closed on graceful close
		slog.Info("rabbitmq channel closed")
		return
	}

	slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

	// Publishing is blocked while we are reconnecting.
	p.connLock.Lock()
	defer p.connLock.Unlock()

	p.channel = nil
	p.conn = nil
	for {
		select {
		case <-p.closed:
			return
		default:
		}
		if p.connect(context.Background()) == nil {
			slog.Info("successfully reconnected to rabbitmq")
			return
		}
		time.Sleep(RetryDelay * 10)
	}
}

func (p *RabbitMQPublisher) PublishTasksReady(ctx context.Context, payload TasksReadyPayload) error {
	p.connLock.RLock()
	defer p.connLock.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", TasksReadyType, err)
	}

	err = p.channel.PublishWithContext(ctx,
		TasksReadyExchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Type:        TasksReadyType,
			Body:        body,
		})
	if err != nil {
		slog.Error("failed to publish notification, potential connection issue", "queue", payload.QueueName, "error", err)
		return fmt.Errorf("failed to publish %s: %w", TasksReadyType, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.destructor.Do(func() {
		close(p.closed)

		p.connLock.RLock()
		defer p.connLock.RUnlock()
		if p.conn == nil {
			return
		}
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.Type
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

// RabbitMQReceiver consumes notifications through an exclusive queue bound to the fanout
// exchange. The queue is deleted with the connection.
type RabbitMQReceiver struct {
	tasks chan Task
	url   string
	stop  chan struct{}
	once  sync.Once
}

func NewRabbitMQReceiver(ctx context.Context, rabbitMQURL string) (*RabbitMQReceiver, error) {
	c := &RabbitMQReceiver{
		tasks: make(chan Task),
		url:   rabbitMQURL,
		stop:  make(chan struct{}),
	}

	if err := c.receiveTasks(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RabbitMQReceiver) consume(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		select {
		case c.tasks <- &RabbitMQTask{d: d}:
		case <-c.stop:
			return
		}
	}
}

func (c *RabbitMQReceiver) receiveTasks(ctx context.Context) error {
	conn, err := connectToRabbitMQ(ctx, c.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		slog.Error("failed to open rabbitmq channel", "error", err)
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := channel.Qos(1, 0, false); err != nil {
		slog.Error("failed to set channel qos", "error", err)
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	if err := declareExchange(channel); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq exchange %s: %w", TasksReadyExchange, err)
	}

	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare notification queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", TasksReadyExchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to bind notification queue: %w", err)
	}

	msgs, err := channel.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		slog.Error("failed to consume from rabbitmq queue", "queue", queue.Name, "error", err)
		conn.Close()
		return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", queue.Name, err)
	}

	go c.consume(msgs)
	go c.handleReconnect(conn, channel)

	return nil
}

func (c *RabbitMQReceiver) handleReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err, ok := <-notifyClose:
		if !ok {
			slog.Info("rabbitmq channel closed")
			return
		}

		slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

		for {
			select {
			case <-c.stop:
				return
			default:
			}
			if c.receiveTasks(context.Background()) == nil {
				slog.Info("successfully restarted rabbitmq consumer")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-c.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq conn", "error", err)
		}
		return
	}
}

func (c *RabbitMQReceiver) Tasks() <-chan Task {
	return c.tasks
}

func (c *RabbitMQReceiver) Close() {
	c.once.Do(func() { close(c.stop) })
}
