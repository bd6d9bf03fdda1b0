// Package queue publishes and decodes the JSON messages exchanged over SQS.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends messages of type T as JSON to one queue.
type Publisher[T any] struct {
	client   SQSSender
	queueURL string
}

// NewPublisher creates a new Publisher.
func NewPublisher[T any](client SQSSender, queueURL string) *Publisher[T] {
	return &Publisher[T]{client: client, queueURL: queueURL}
}

// Publish sends msg to the queue.
func (p *Publisher[T]) Publish(ctx context.Context, msg T) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send to queue: %w", err)
	}
	return nil
}

// Decode parses a message body published by Publisher.
func Decode[T any](body string) (T, error) {
	var msg T
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("failed to parse message: %w", err)
	}
	return msg, nil
}
