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

package csvexport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bcem/forensics/internal/models"
)

const export = "\ufeffMessage ID,Date,IP address,From (Envelope),To (Envelope),Subject,Event,Owner,Unused\n" +
	"<m1@victim.example>,2025-12-04T16:00:00Z,158.51.123.14,lori@victim.example,jhw@ssdhvca.com,RE: remittance,Send,lori@victim.example,x\n" +
	"<m1@victim.example>,2025-12-04T16:00:00Z,158.51.123.14,lori@victim.example,ap@ssdhvca.com,RE: remittance,Send,lori@victim.example,x\n" +
	"short,row\n" +
	",,,,,,,,\n" +
	"<m2@victim.example>,2025-12-04T16:05:00Z,,jhw@ssdhvca.com,lori@victim.example,\"Wire, updated\",Receive,lori@victim.example,y\n"

// TestRead verifies header mapping, BOM stripping and that a malformed row
// is kept without blocking the rows after it.
func TestRead(t *testing.T) {
	r, err := NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}

	rows, err := r.Read(strings.NewReader(export), "lori.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows (blank skipped), got %d", len(rows))
	}

	if got := rows[0].Get(models.ColMessageID); got != "<m1@victim.example>" {
		t.Errorf("message id = %q", got)
	}
	if rows[0].Line != 2 || rows[0].File != "lori.csv" {
		t.Errorf("row 0 position = %s:%d", rows[0].File, rows[0].Line)
	}
	if _, ok := rows[0].Values["unused"]; ok {
		t.Error("unmapped column leaked into values")
	}

	if rows[2].ParseError == "" || rows[2].Line != 4 {
		t.Errorf("expected parse error on line 4, got %+v", rows[2])
	}

	if got := rows[3].Get(models.ColSubject); got != "Wire, updated" {
		t.Errorf("quoted subject = %q", got)
	}
	if rows[3].Get(models.ColEvent) != "Receive" {
		t.Errorf("event = %q", rows[3].Get(models.ColEvent))
	}
}

func TestNewReader_Overrides(t *testing.T) {
	r, err := NewReader(map[string]string{"Internet Message Id": "message_id"})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := r.Read(strings.NewReader("internet message id,DATE\n<a@b>,2025-12-04\n"), "f.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Get(models.ColMessageID) != "<a@b>" || rows[0].Get(models.ColDate) != "2025-12-04" {
		t.Errorf("unexpected rows %+v", rows)
	}

	if _, err := NewReader(map[string]string{"X": "not_a_column"}); err == nil {
		t.Error("expected error for unknown logical column")
	}
}

func TestRead_UnrecognisedHeader(t *testing.T) {
	r, _ := NewReader(nil)
	if _, err := r.Read(strings.NewReader("a,b\n1,2\n"), "bad.csv"); err == nil {
		t.Error("expected error for a file with no known columns")
	}
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "send.csv")
	if err := os.WriteFile(p, []byte(export), 0o600); err != nil {
		t.Fatal(err)
	}

	r, _ := NewReader(nil)
	rows, err := r.ReadFiles([]string{p})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 || rows[0].File != "send.csv" {
		t.Errorf("unexpected rows %d / %q", len(rows), rows[0].File)
	}

	if _, err := r.ReadFiles([]string{filepath.Join(dir, "missing.csv")}); err == nil {
		t.Error("expected error for missing file")
	}
}
