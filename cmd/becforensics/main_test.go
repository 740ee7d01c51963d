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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testConfig = `
case:
  name: ssd-hvac
mailbox:
  windows:
    - start: 2025-12-01T00:00:00Z
      end: 2025-12-08T00:00:00Z
provenance:
  ips:
    - match: 158.51.123.14
      label: known_attacker
  legitimate_domains: [ssdhvac.com]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", "")
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// TestClassifyCommand verifies labels and pair matches are printed one per
// line in flag order.
func TestClassifyCommand(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "classify",
		"--ip", "158.51.123.14",
		"--ip", "2600:387:1::5",
		"--domain", "ssdhvca.com",
		"--pair", "ssdhvca.com,ssdhvac.com",
	)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	want := []string{
		"ip\t158.51.123.14\tknown_attacker",
		"ip\t2600:387:1::5\tknown_relay",
		"domain\tssdhvca.com\tunknown",
		"pair\tssdhvca.com\tssdhvac.com\tsimilar",
	}
	got := strings.Split(strings.TrimSpace(out), "\n")
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(got), len(want), out)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClassifyCommand_BadPair(t *testing.T) {
	cfgPath := writeConfig(t)
	if _, err := execute(t, "--config", cfgPath, "classify", "--pair", "ssdhvca.com"); err == nil {
		t.Error("expected error for pair without reference")
	}
}

func TestAnalyzeCommand_NothingToAnalyze(t *testing.T) {
	cfgPath := writeConfig(t)
	if _, err := execute(t, "--config", cfgPath, "analyze"); err == nil {
		t.Error("expected error with no inputs")
	}
}

// TestAnalyzeCommand_CSVOnly verifies an offline run over a flat-file
// export writes a report.
func TestAnalyzeCommand_CSVOnly(t *testing.T) {
	cfgPath := writeConfig(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "export.csv")
	csv := "Message ID,Date,IP address,From (Envelope),To (Envelope),Subject,Event\n" +
		"<m2@victim.example>,2025-12-04T16:00:00Z,158.51.123.14,lori@victim.example,jhw@ssdhvca.com,RE: remittance,Send\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}
	reportPath := filepath.Join(dir, "report.json")

	if _, err := execute(t, "--config", cfgPath, "analyze", "--csv", csvPath, "-o", reportPath); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("<m2@victim.example>")) {
		t.Errorf("report does not mention the exported message:\n%s", data)
	}
}

func TestSettingsFrom(t *testing.T) {
	cfgPath := writeConfig(t)
	a := &app{configPath: cfgPath}
	cfg, err := a.loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	s, err := settingsFrom(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.Case != "ssd-hvac" {
		t.Errorf("Case = %q", s.Case)
	}
	if len(s.MailboxWindows) != 1 || !s.MailboxWindows[0].End.Equal(time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("MailboxWindows = %+v", s.MailboxWindows)
	}
}
