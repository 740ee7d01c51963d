// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/forensics/internal/models"
)

// TestPublishFindings verifies the Celery envelope and that findings are
// consumed (RPOP) in the order they were published.
func TestPublishFindings(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewPublisher(rdb, "findings")
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	findings := []models.Finding{
		{RuleID: "reply_to_mismatch", Severity: models.SeverityCritical, Subject: "<m1@x>",
			OccurredAt: time.Date(2025, 12, 4, 15, 30, 0, 0, time.UTC)},
		{RuleID: "mailbox_discrepancy", Severity: models.SeverityWarning, Subject: "<m2@x>"},
	}

	n, err := p.PublishFindings(context.Background(), "run-1", "victim-bec", findings)
	if err != nil || n != 2 {
		t.Fatalf("PublishFindings = %d, %v", n, err)
	}

	for i, want := range findings {
		raw, err := rdb.RPop(context.Background(), "findings").Result()
		if err != nil {
			t.Fatalf("rpop %d: %v", i, err)
		}

		var msg celeryMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		if msg.Headers["task"] != TaskName {
			t.Errorf("task header = %v", msg.Headers["task"])
		}

		var task celeryTask
		if err := json.Unmarshal([]byte(msg.Body), &task); err != nil {
			t.Fatalf("unmarshal task: %v", err)
		}
		if task.ID == "" || task.ID != msg.Headers["id"] {
			t.Errorf("task id %q does not match header %v", task.ID, msg.Headers["id"])
		}

		var ft FindingTask
		if err := json.Unmarshal([]byte(task.Args[0].(string)), &ft); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if ft.RunID != "run-1" || ft.Case != "victim-bec" {
			t.Errorf("payload run/case = %q/%q", ft.RunID, ft.Case)
		}
		if ft.Finding.RuleID != want.RuleID || ft.Finding.Severity != want.Severity {
			t.Errorf("finding %d = %s/%s, want %s/%s", i, ft.Finding.RuleID, ft.Finding.Severity, want.RuleID, want.Severity)
		}
	}
}

func TestPublishFinding_RedisError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	p := NewPublisher(rdb, "findings")
	n, err := p.PublishFindings(context.Background(), "run-1", "c", []models.Finding{{RuleID: "x"}})
	if err == nil || n != 0 {
		t.Fatalf("expected error with 0 published, got %d, %v", n, err)
	}
}
