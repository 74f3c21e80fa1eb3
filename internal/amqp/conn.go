package amqp

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
)

// connection is the part of *amqp091.Connection the client depends on.
type connection interface {
	Channel() (channel, error)
	IsClosed() bool
	Close() error
}

// channel is the part of *amqp091.Channel the client depends on.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (connection, error)

type brokerConn struct {
	*amqp091.Connection
}

func (c brokerConn) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialBroker(url string) (connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return brokerConn{conn}, nil
}
