// Package amqpwin carries editor messages through a RabbitMQ direct exchange.
// Each side owns a queue named after its origin and publishes to the peer's.
package amqpwin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
)

var ErrClosed = errors.New("amqpwin: connection is closed")

type Options struct {
	Exchange string
	// Queue is this side's queue and origin.
	Queue string
	// Peer is the routing key of the other side.
	Peer string
}

type Port struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	consumerTag string
	opts        Options
	deliveries  <-chan amqp.Delivery
	connErr     chan *amqp.Error
}

func Dial(url string, opts Options) (*Port, error) {
	if opts.Exchange == "" || opts.Queue == "" || opts.Peer == "" {
		return nil, errors.New("amqpwin: exchange, queue and peer are required")
	}

	p := &Port{
		consumerTag: "editor-window:" + uuid.New().String(),
		opts:        opts,
		connErr:     make(chan *amqp.Error, 1),
	}

	var err error

	config := amqp.Config{Properties: amqp.NewConnectionProperties()}
	p.conn, err = amqp.DialConfig(url, config)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	p.channel, err = p.conn.Channel()
	if err != nil {
		p.conn.Close()
		return nil, fmt.Errorf("channel: %w", err)
	}

	if err = p.declare(); err != nil {
		p.conn.Close()
		return nil, err
	}

	p.conn.NotifyClose(p.connErr)

	return p, nil
}

func (p *Port) declare() error {
	if err := p.channel.ExchangeDeclare(
		p.opts.Exchange, // name of the exchange
		"direct",        // type
		true,            // durable
		false,           // delete when complete
		false,           // internal
		false,           // noWait
		nil,             // arguments
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	if _, err := p.channel.QueueDeclare(
		p.opts.Queue, // queue name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // noWait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	if err := p.channel.QueueBind(
		p.opts.Queue,    // queue
		p.opts.Queue,    // bindingKey
		p.opts.Exchange, // sourceExchange
		false,           // noWait
		nil,             // arguments
	); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	var err error
	p.deliveries, err = p.channel.Consume(
		p.opts.Queue,  // queue
		p.consumerTag, // consumerTag
		false,         // autoAck
		false,         // exclusive
		false,         // noLocal
		false,         // noWait
		nil,           // arguments
	)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	return nil
}

func (p *Port) Origin() string { return p.opts.Queue }

func (p *Port) PostMessage(ctx context.Context, data string, targetOrigin string) error {
	if p.channel.IsClosed() {
		return ErrClosed
	}
	if !editorapi.OriginMatches(targetOrigin, p.opts.Peer) {
		return nil
	}
	return p.channel.PublishWithContext(
		ctx,
		p.opts.Exchange,
		p.opts.Peer,
		true,
		false,
		publishing(data, p.opts.Queue),
	)
}

func (p *Port) Receive(ctx context.Context) (editorapi.MessageEvent, error) {
	select {
	case d, ok := <-p.deliveries:
		if !ok {
			return editorapi.MessageEvent{}, io.EOF
		}
		if err := d.Ack(false); err != nil {
			return editorapi.MessageEvent{}, fmt.Errorf("ack: %w", err)
		}
		return deliveryEvent(d), nil
	case err := <-p.connErr:
		if err == nil {
			return editorapi.MessageEvent{}, io.EOF
		}
		return editorapi.MessageEvent{}, err
	case <-ctx.Done():
		return editorapi.MessageEvent{}, ctx.Err()
	}
}

func (p *Port) Close() error {
	if !p.channel.IsClosed() {
		if err := p.channel.Cancel(p.consumerTag, false); err != nil {
			return err
		}

		if err := p.channel.Close(); err != nil {
			return err
		}

		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}

func publishing(data, origin string) amqp.Publishing {
	return amqp.Publishing{
		Headers:      amqp.Table{},
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Body:         []byte(data),
		MessageId:    uuid.New().String(),
		AppId:        origin,
	}
}

func deliveryEvent(d amqp.Delivery) editorapi.MessageEvent {
	return editorapi.MessageEvent{Data: string(d.Body), Origin: d.AppId}
}
