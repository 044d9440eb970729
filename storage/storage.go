package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"fieldtask-api/domain"
)

// Store persists tasks in an Azure table. It is the single source of
// truth for task state; ledger and notifier are advisory side channels.
type Store struct {
	taskTable *aztables.Client
}

// New creates a Store from the given connection string.
func New(connStr, tasksTable string) (*Store, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Store{taskTable: svc.NewClient(tasksTable)}, nil
}

// taskEntity is the table row. Status and party IDs are queryable
// columns; the rest of the task travels as one JSON document.
type taskEntity struct {
	aztables.Entity
	ClientID string `json:"ClientId"`
	WorkerID string `json:"WorkerId"`
	Status   string `json:"Status"`
	Doc      string `json:"Doc"`
}

func encodeTask(t *domain.Task) ([]byte, error) {
	doc, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	ent := taskEntity{
		Entity:   aztables.Entity{PartitionKey: t.ID, RowKey: t.ID},
		ClientID: t.ClientID,
		WorkerID: t.WorkerID,
		Status:   string(t.Status),
		Doc:      string(doc),
	}
	return json.Marshal(ent)
}

func decodeTask(data []byte) (*domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(ent.Doc), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Load retrieves a task by ID.
func (s *Store) Load(ctx context.Context, taskID string) (*domain.Task, error) {
	task, _, err := s.loadWithETag(ctx, taskID)
	return task, err
}

func (s *Store) loadWithETag(ctx context.Context, taskID string) (*domain.Task, azcore.ETag, error) {
	resp, err := s.taskTable.GetEntity(ctx, taskID, taskID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, "", domain.ErrTaskNotFound
		}
		return nil, "", err
	}
	task, err := decodeTask(resp.Value)
	if err != nil {
		return nil, "", err
	}
	return task, resp.ETag, nil
}

// Insert creates a new task row. Used by the creation path and fixtures;
// lifecycle transitions always go through Update.
func (s *Store) Insert(ctx context.Context, t *domain.Task) error {
	payload, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// Update implements the conditional write required by the lifecycle:
// the mutation is applied only while the task's status matches the
// expectation, and the write is guarded by the row's ETag so a
// concurrent writer forces a re-read. Once the expectation no longer
// holds the caller gets a ConflictError carrying the current status.
func (s *Store) Update(ctx context.Context, taskID string, expected []domain.TaskStatus, mutate func(*domain.Task) error) (*domain.Task, error) {
	for {
		task, etag, err := s.loadWithETag(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if !statusIn(task.Status, expected) {
			return nil, &domain.ConflictError{Current: task.Status}
		}
		if err := mutate(task); err != nil {
			return nil, err
		}
		payload, err := encodeTask(task)
		if err != nil {
			return nil, err
		}
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		if err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && (respErr.StatusCode == 412 || respErr.StatusCode == 409) {
				// Lost the race; re-read and re-check the expectation.
				continue
			}
			return nil, err
		}
		return task, nil
	}
}

func statusIn(s domain.TaskStatus, set []domain.TaskStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
