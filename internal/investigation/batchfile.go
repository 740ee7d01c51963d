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

package investigation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bcem/forensics/internal/models"
)

// SaveBatch writes a raw batch as JSON for offline replay.
func SaveBatch(path string, b models.Batch) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write batch %s: %w", path, err)
	}
	return nil
}

// LoadBatch reads a batch written by SaveBatch.
func LoadBatch(path string) (models.Batch, error) {
	var b models.Batch
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read batch %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("decode batch %s: %w", path, err)
	}
	return b, nil
}

// MergeBatches concatenates batches in order.
func MergeBatches(batches ...models.Batch) models.Batch {
	var out models.Batch
	for _, b := range batches {
		out.Messages = append(out.Messages, b.Messages...)
		out.AuditItems = append(out.AuditItems, b.AuditItems...)
		out.CSVRows = append(out.CSVRows, b.CSVRows...)
	}
	return out
}
