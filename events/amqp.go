package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP publishes events to a RabbitMQ broker. Each publish dials a fresh
// connection, declares the durable queue, and sends one persistent message.
// The function attempts to be robust and to never panic; any error is
// logged and returned so the caller can choose to ignore it.
type AMQP struct {
	URL string
}

func NewAMQP(url string) *AMQP {
	return &AMQP{URL: url}
}

func (p *AMQP) PublishTicketPurchased(ctx context.Context, event TicketPurchased) error {
	return p.publish(ctx, QueueTicketPurchased, event)
}

func (p *AMQP) PublishTicketCancelled(ctx context.Context, event TicketCancelled) error {
	return p.publish(ctx, QueueTicketCancelled, event)
}

func (p *AMQP) publish(ctx context.Context, queue string, event any) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return err
	}

	return nil
}
