// Package messaging owns the RabbitMQ wire contract between the API
// server and the generation worker: the task payload, the queue
// topology and the publisher.
package messaging

import "github.com/google/uuid"

// DefaultTaskQueue is the durable queue carrying chapter generation
// tasks. Overridable through configuration; both the publisher and the
// consumer must agree on the name and its dead-letter arguments.
const DefaultTaskQueue = "chapter_generation_tasks"

// dlqRoutingKey routes dead-lettered deliveries from the DLX to the DLQ.
const dlqRoutingKey = "dlq"

// DeadLetterExchange returns the dead-letter exchange name for a queue.
func DeadLetterExchange(queue string) string {
	return queue + "_dlx"
}

// DeadLetterQueue returns the dead-letter queue name for a queue.
func DeadLetterQueue(queue string) string {
	return queue + "_dlq"
}

// ChapterTaskPayload is the message dispatched for one chapter
// generation job. TaskID doubles as the TaskStatus row id so a
// redelivered message finds the record of its previous attempt.
type ChapterTaskPayload struct {
	TaskID         uuid.UUID `json:"task_id"`
	StoryID        uuid.UUID `json:"story_id"`
	ChapterNumber  int       `json:"chapter_number"`
	SelectedChoice string    `json:"selected_choice,omitempty"`
}
