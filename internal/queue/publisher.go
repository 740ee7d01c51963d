// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/yourusername/bcem/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue hands findings to the reporting layer as Celery-compatible
// tasks on a Redis list. The reporting workers consume them with
// `celery worker -Q <queue>`.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/forensics/internal/models"
)

// TaskName is the Celery task the reporting workers register.
const TaskName = "forensics.tasks.record_finding"

// Publisher sends findings to Redis in Celery task format.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// celeryTask represents a Celery-compatible task message.
// Celery reads tasks from Redis using this exact JSON structure.
type celeryTask struct {
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Retries int            `json:"retries"`
	ETA     *string        `json:"eta"`
}

// celeryMessage wraps a task for Redis transport.
type celeryMessage struct {
	Body            string         `json:"body"`
	ContentEncoding string         `json:"content-encoding"`
	ContentType     string         `json:"content-type"`
	Headers         map[string]any `json:"headers"`
	Properties      map[string]any `json:"properties"`
}

// FindingTask is the payload of one published finding.
type FindingTask struct {
	RunID   string         `json:"run_id"`
	Case    string         `json:"case"`
	Finding models.Finding `json:"finding"`
}

// PublishFindings publishes every finding of a run, in order, and returns
// how many were pushed before any error.
func (p *Publisher) PublishFindings(ctx context.Context, runID, caseName string, findings []models.Finding) (int, error) {
	for i := range findings {
		if err := p.PublishFinding(ctx, FindingTask{RunID: runID, Case: caseName, Finding: findings[i]}); err != nil {
			return i, err
		}
	}
	slog.Info("published findings to queue",
		"run_id", runID,
		"count", len(findings),
		"queue", p.queueName,
	)
	return len(findings), nil
}

// PublishFinding serialises one finding and publishes it as a Celery task.
func (p *Publisher) PublishFinding(ctx context.Context, ft FindingTask) error {
	payload, err := json.Marshal(ft)
	if err != nil {
		return fmt.Errorf("marshal finding: %w", err)
	}

	taskID := uuid.New().String()

	task := celeryTask{
		ID:     taskID,
		Task:   TaskName,
		Args:   []any{string(payload)},
		Kwargs: map[string]any{},
	}

	taskBody, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal celery task: %w", err)
	}

	msg := celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]any{
			"lang":    "py",
			"task":    TaskName,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]any{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"exchange":       p.queueName,
			"routing_key":    p.queueName,
			"delivery_info": map[string]string{
				"exchange":    p.queueName,
				"routing_key": p.queueName,
			},
		},
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal celery message: %w", err)
	}

	// Celery consumes from the right; LPUSH keeps findings in order.
	if err := p.rdb.LPush(ctx, p.queueName, string(msgJSON)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published finding",
		"task_id", taskID,
		"rule_id", ft.Finding.RuleID,
		"subject", ft.Finding.Subject,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
