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

// Package csvexport reads the admin console's email log search export.
// Headers are mapped onto logical columns through a static table that
// configuration can extend; unmapped columns are ignored.
package csvexport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bcem/forensics/internal/models"
)

// DefaultMapping maps export header names to logical columns.
var DefaultMapping = map[string]models.CSVColumn{
	"Message ID":            models.ColMessageID,
	"Date":                  models.ColDate,
	"IP address":            models.ColIP,
	"From (Envelope)":       models.ColEnvelopeFrom,
	"To (Envelope)":         models.ColEnvelopeTo,
	"From (Header address)": models.ColHeaderFrom,
	"Subject":               models.ColSubject,
	"Event":                 models.ColEvent,
	"Owner":                 models.ColOwner,
	"SPF domain":            models.ColSPFDomain,
	"DKIM domain":           models.ColDKIMDomain,
	"Traffic source":        models.ColTrafficSource,
	"Geo location":          models.ColGeoLocation,
}

// Reader turns export files into raw rows.
type Reader struct {
	mapping map[string]models.CSVColumn
}

// NewReader creates a reader using DefaultMapping plus overrides. Override
// keys are header names; values must be known logical columns.
func NewReader(overrides map[string]string) (*Reader, error) {
	known := make(map[models.CSVColumn]bool, len(DefaultMapping))
	m := make(map[string]models.CSVColumn, len(DefaultMapping)+len(overrides))
	for h, c := range DefaultMapping {
		m[headerKey(h)] = c
		known[c] = true
	}
	for h, c := range overrides {
		col := models.CSVColumn(c)
		if !known[col] {
			return nil, fmt.Errorf("csv mapping %q: unknown column %q", h, c)
		}
		m[headerKey(h)] = col
	}
	return &Reader{mapping: m}, nil
}

// ReadFiles reads every file in order. A file that cannot be opened or has
// no usable header is an error; bad rows inside a file are not.
func (r *Reader) ReadFiles(paths []string) ([]models.RawCSVRow, error) {
	var rows []models.RawCSVRow
	for _, p := range paths {
		got, err := r.ReadFile(p)
		if err != nil {
			return nil, err
		}
		rows = append(rows, got...)
	}
	return rows, nil
}

// ReadFile reads one export file.
func (r *Reader) ReadFile(path string) ([]models.RawCSVRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv export: %w", err)
	}
	defer f.Close()
	return r.Read(f, filepath.Base(path))
}

// Read parses an export from in. name identifies the file in native ids.
// Rows that cannot be split are returned with ParseError set.
func (r *Reader) Read(in io.Reader, name string) ([]models.RawCSVRow, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header %s: %w", name, err)
	}

	cols := make([]models.CSVColumn, len(header))
	mapped := 0
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if c, ok := r.mapping[headerKey(h)]; ok {
			cols[i] = c
			mapped++
		}
	}
	if mapped == 0 {
		return nil, fmt.Errorf("csv %s: no recognised columns in header %v", name, header)
	}

	var rows []models.RawCSVRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		row := models.RawCSVRow{File: name}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				row.Line = perr.StartLine
			} else {
				return nil, fmt.Errorf("read csv %s: %w", name, err)
			}
			row.ParseError = err.Error()
			rows = append(rows, row)
			continue
		}

		row.Line, _ = cr.FieldPos(0)
		if len(rec) != len(header) {
			row.ParseError = fmt.Sprintf("wrong number of fields: got %d, want %d", len(rec), len(header))
			rows = append(rows, row)
			continue
		}
		if blank(rec) {
			continue
		}

		row.Values = make(map[models.CSVColumn]string, mapped)
		for i, v := range rec {
			if cols[i] != "" {
				row.Values[cols[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}

	slog.Info("csv export read", "file", name, "rows", len(rows))
	return rows, nil
}

func headerKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
