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

package normalize

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// layouts are tried in order after RFC 3339 and RFC 5322 parsing fail.
// Layouts without a zone are read as UTC.
var layouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05.999999999",
	"2006/01/02 15:04:05 MST",
	"2006/01/02 15:04:05",
	"01/02/2006 15:04:05",
	"Jan 2, 2006, 3:04:05 PM MST",
	"Jan 2, 2006, 3:04:05 PM",
	"2006-01-02",
}

// ParseTime parses a source timestamp leniently and returns it in UTC.
// Bare integers are read as Unix milliseconds (Gmail internalDate) or
// seconds depending on magnitude.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		switch {
		case n > 1e14:
			return time.UnixMicro(n).UTC(), nil
		case n > 1e11:
			return time.UnixMilli(n).UTC(), nil
		case n > 0:
			return time.Unix(n, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("timestamp %q out of range", raw)
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return resolveZone(t, raw)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return resolveZone(t, raw)
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// zoneOffsets are the abbreviations export tools print for North American
// zones, in seconds east of UTC.
var zoneOffsets = map[string]int{
	"EST": -5 * 3600, "EDT": -4 * 3600,
	"CST": -6 * 3600, "CDT": -5 * 3600,
	"MST": -7 * 3600, "MDT": -6 * 3600,
	"PST": -8 * 3600, "PDT": -7 * 3600,
	"AKST": -9 * 3600, "AKDT": -8 * 3600,
	"HST": -10 * 3600,
}

// resolveZone fixes times parsed from a zone abbreviation. time.Parse
// takes the offset of an abbreviation from the local location, or zero
// when the local location does not know it, so the listed abbreviations
// are resolved from the table and any other unknown one is rejected.
func resolveZone(t time.Time, raw string) (time.Time, error) {
	name, offset := t.Zone()
	if off, ok := zoneOffsets[name]; ok {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
			time.FixedZone(name, off)).UTC(), nil
	}
	if offset != 0 {
		return t.UTC(), nil
	}
	switch name {
	case "", "UTC", "GMT", "Z":
		return t.UTC(), nil
	}
	if !strings.Contains(raw, name) {
		// A numeric +0000 picked up the local zone's name.
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("timestamp %q has unknown zone %q", raw, name)
}
