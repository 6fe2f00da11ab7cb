package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPConfig represents the config of the Publisher. An empty DSN disables
// the relay.
type AMQPConfig struct {
	DSN           string `yaml:"dsn"`
	TLS           bool   `yaml:"tls"`
	Exchange      string `yaml:"exchange"`
	RoutingPrefix string `yaml:"routing_prefix"`
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher relays hub events to an AMQP topic exchange
type Publisher struct {
	config     AMQPConfig
	topic      *Topic
	hub        *Hub
	connection *amqp.Connection
	channel    amqpChannel
	logger     *zap.SugaredLogger
}

// Connect with the configured AMQP broker
func (p *Publisher) dial() error {
	var err error

	if p.config.TLS {
		p.connection, err = amqp.DialTLS(p.config.DSN, nil)
	} else {
		p.connection, err = amqp.Dial(p.config.DSN)
	}
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}

	p.logger.Info("publisher: connection established")

	return nil
}

// Get a Channel for publishing
func (p *Publisher) getChannel() error {
	ch, err := p.connection.Channel()
	if err != nil {
		p.logger.Errorw("publisher: failed to get Channel", "error", err)

		return fmt.Errorf("publisher: failed to get Channel: %w", err)
	}
	p.channel = ch

	p.logger.Debug("publisher: got Channel")

	return nil
}

// Declare the durable topic Exchange events are published to
func (p *Publisher) declareExchange() error {
	p.logger.Infow("publisher: declaring Exchange", "exchange", p.config.Exchange)

	err := p.channel.ExchangeDeclare(
		p.config.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		p.logger.Errorw("publisher: failed to declare Exchange", "error", err)

		return fmt.Errorf("publisher: failed to declare Exchange: %w", err)
	}

	return nil
}

// Connect dials the broker and declares the Exchange, retrying on failure
func (p *Publisher) Connect() error {
	return retry.Do(
		func() error {
			if p.connection == nil {
				if err := p.dial(); err != nil {
					return err
				}
			}

			if err := p.getChannel(); err != nil {
				p.connection.Close()
				p.connection = nil
				return err
			}

			return p.declareExchange()
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warnw("publisher: connect attempt failed", "attempt", n+1, "error", err)
		}),
	)
}

// Run relays hub events until ctx is cancelled or the hub is closed
func (p *Publisher) Run(ctx context.Context) error {
	if p.channel == nil {
		return fmt.Errorf("publisher: not connected")
	}

	p.logger.Infow("publisher: relaying events", "exchange", p.config.Exchange, "prefix", p.topic.Prefix)

	return p.hub.Consume(ctx, "publisher", p.publish)
}

func (p *Publisher) publish(e Event) {
	body, err := e.MarshalPayload()
	if err != nil {
		p.logger.Errorw("publisher: failed to encode event", "type", e.Type, "error", err)
		return
	}

	err = p.channel.Publish(
		p.config.Exchange,
		p.topic.Key(e.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
			Type:         string(e.Type),
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Warnw("publisher: failed to publish event", "type", e.Type, "error", err)
	}
}

// Shutdown the Publisher
func (p *Publisher) Shutdown() error {
	p.logger.Info("publisher: shutting down")

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Warnw("publisher: channel close error", "error", err)
		}
	}

	if p.connection == nil {
		p.logger.Info("publisher: shutdown OK")

		return nil
	}

	if err := p.connection.Close(); err != nil {
		return fmt.Errorf("publisher: AMQP connection close error: %w", err)
	}

	p.logger.Info("publisher: shutdown OK")

	return nil
}

// NewPublisher creates a new Publisher
func NewPublisher(config AMQPConfig, hub *Hub, logger *zap.SugaredLogger) (*Publisher, error) {
	topic, err := NewTopic(config.RoutingPrefix)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		config: config,
		topic:  topic,
		hub:    hub,
		logger: logger,
	}, nil
}
