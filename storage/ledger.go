package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
)

// Ledger appends lifecycle events to the append-only audit queue. The
// queue is not the system of record; it exists for tamper-evident
// milestone history.
type Ledger struct {
	queue *azqueue.QueueClient
}

// NewLedger creates a ledger client for the given queue.
func NewLedger(connStr, queueName string) (*Ledger, error) {
	opts := azqueue.ClientOptions{
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
	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &Ledger{queue: queue}, nil
}

type ledgerEvent struct {
	Kind       string         `json:"kind"`
	Key        string         `json:"key"`
	Fields     map[string]any `json:"fields,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// RecordEvent appends one event and returns the queue message ID as the
// receipt.
func (l *Ledger) RecordEvent(ctx context.Context, kind, key string, fields map[string]any) (string, error) {
	data, err := sonic.Marshal(ledgerEvent{Kind: kind, Key: key, Fields: fields, RecordedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	resp, err := l.queue.EnqueueMessage(ctx, string(data), nil)
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].MessageID == nil {
		return "", errors.New("ledger accepted the event but returned no receipt")
	}
	return *resp.Messages[0].MessageID, nil
}
