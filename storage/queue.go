package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"gtdsync/domain"
)

type ChangeType string

const (
	TaskUpserted ChangeType = "task-upserted"
	TaskDeleted  ChangeType = "task-deleted"
)

// ChangeEvent is queued after every task write for downstream consumers.
type ChangeEvent struct {
	Type      ChangeType   `json:"Type"`
	UserID    string       `json:"UserId"`
	TaskID    string       `json:"TaskId"`
	Task      *domain.Task `json:"Task,omitempty"`
	Timestamp int64        `json:"Timestamp"`
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// ChangeQueue wraps the Azure queue that carries task change events.
type ChangeQueue struct {
	client queueClient
}

// Message is a dequeued change event with the receipt needed to delete it.
type Message struct {
	ID         string
	PopReceipt string
	Event      ChangeEvent
}

func NewChangeQueue(client queueClient) *ChangeQueue {
	return &ChangeQueue{client: client}
}

// OpenChangeQueue connects to the named queue.
func OpenChangeQueue(connStr, name string) (*ChangeQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return NewChangeQueue(qc), nil
}

// Enqueue sends ev to the queue.
func (q *ChangeQueue) Enqueue(ctx context.Context, ev ChangeEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue retrieves a single message, or nil when the queue is empty.
func (q *ChangeQueue) Dequeue(ctx context.Context) (*Message, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &Message{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.PopReceipt = *m.PopReceipt
	}
	if m.MessageText == nil {
		return msg, nil
	}
	if err := sonic.Unmarshal([]byte(*m.MessageText), &msg.Event); err != nil {
		return msg, err
	}
	return msg, nil
}

// Delete removes a processed message.
func (q *ChangeQueue) Delete(ctx context.Context, m *Message) error {
	_, err := q.client.DeleteMessage(ctx, m.ID, m.PopReceipt, nil)
	return err
}
