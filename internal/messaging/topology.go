package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DeclareTaskTopology declares the task queue together with its
// dead-letter exchange and queue. Declaration is idempotent, so both
// the publisher and the consumer run it on startup and the services
// may come up in any order.
func DeclareTaskTopology(ch *amqp.Channel, queue string) error {
	dlx := DeadLetterExchange(queue)
	dlq := DeadLetterQueue(queue)

	err := ch.ExchangeDeclare(
		dlx,      // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("exchange", dlx).Msg("Failed to declare dead-letter exchange")
		return fmt.Errorf("failed to declare DLX '%s': %w", dlx, err)
	}

	_, err = ch.QueueDeclare(
		dlq,   // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("queue", dlq).Msg("Failed to declare dead-letter queue")
		return fmt.Errorf("failed to declare DLQ '%s': %w", dlq, err)
	}

	if err = ch.QueueBind(dlq, dlqRoutingKey, dlx, false, nil); err != nil {
		log.Error().Err(err).Str("queue", dlq).Str("exchange", dlx).Msg("Failed to bind dead-letter queue")
		return fmt.Errorf("failed to bind DLQ '%s' to DLX '%s': %w", dlq, dlx, err)
	}

	// Lazy mode keeps long generation backlogs on disk instead of in
	// broker memory.
	args := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,  // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Failed to declare task queue")
		return fmt.Errorf("failed to declare queue '%s': %w", queue, err)
	}

	log.Info().Str("queue", queue).Str("dlx", dlx).Str("dlq", dlq).Msg("Task queue topology declared")
	return nil
}
