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

// Package reports implements the account activity log service for Google
// Workspace using the Admin SDK Reports API (activities.list).
//
// API docs: https://developers.google.com/admin-sdk/reports/reference/rest/v1/activities/list
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bcem/forensics/internal/apiclient"
	"github.com/bcem/forensics/internal/models"
)

const (
	// DefaultBaseURL is the root of the Reports API.
	DefaultBaseURL = "https://admin.googleapis.com/admin/reports/v1"

	pageSize = 1000
)

// Applications lists the report applications relevant to an email
// compromise investigation.
var Applications = []string{"login", "token", "gmail", "admin"}

// Client lists activity items. The http.Client must act as a Workspace
// administrator.
type Client struct {
	api     *apiclient.Client
	baseURL string
}

// NewClient creates a Reports client.
func NewClient(httpClient *http.Client, baseURL string, opts apiclient.Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{api: apiclient.New(httpClient, opts), baseURL: baseURL}
}

type activity struct {
	ID struct {
		Time            string `json:"time"`
		UniqueQualifier string `json:"uniqueQualifier"`
		ApplicationName string `json:"applicationName"`
	} `json:"id"`
	Actor struct {
		Email string `json:"email"`
	} `json:"actor"`
	IPAddress string `json:"ipAddress"`
	Events    []struct {
		Type       string      `json:"type"`
		Name       string      `json:"name"`
		Parameters []parameter `json:"parameters"`
	} `json:"events"`
}

type parameter struct {
	Name       string   `json:"name"`
	Value      string   `json:"value"`
	MultiValue []string `json:"multiValue"`
	BoolValue  *bool    `json:"boolValue"`
	IntValue   string   `json:"intValue"`
	// multiMessageValue and messageValue carry nested structures (for
	// example OAuth scope data); only their flat string forms are kept.
	MessageValue *struct {
		Parameter []parameter `json:"parameter"`
	} `json:"messageValue"`
}

type listResponse struct {
	Items         []activity `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

// List returns every activity item for identity and application in
// [start, end]. An identity of "all" lists the whole domain.
func (c *Client) List(ctx context.Context, identity, application string, start, end time.Time) ([]models.RawAuditItem, error) {
	if identity == "" {
		identity = "all"
	}

	var items []models.RawAuditItem
	pageToken := ""
	for page := 0; ; page++ {
		params := url.Values{}
		params.Set("maxResults", strconv.Itoa(pageSize))
		if !start.IsZero() {
			params.Set("startTime", start.UTC().Format(time.RFC3339))
		}
		if !end.IsZero() {
			params.Set("endTime", end.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		u := fmt.Sprintf("%s/activity/users/%s/applications/%s?%s",
			c.baseURL, url.PathEscape(identity), url.PathEscape(application), params.Encode())

		var resp listResponse
		if _, err := c.api.GetJSON(ctx, u, nil, &resp); err != nil {
			return nil, fmt.Errorf("list %s activities page %d: %w", application, page, err)
		}
		for i := range resp.Items {
			items = append(items, toRaw(&resp.Items[i], application))
		}

		slog.Debug("reports page fetched",
			"identity", identity,
			"application", application,
			"page", page,
			"items", len(resp.Items),
		)

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return items, nil
}

func toRaw(a *activity, application string) models.RawAuditItem {
	app := a.ID.ApplicationName
	if app == "" {
		app = application
	}
	item := models.RawAuditItem{
		ID:          a.ID.Time + "/" + a.ID.UniqueQualifier,
		Application: app,
		Actor:       a.Actor.Email,
		IPAddress:   a.IPAddress,
		Time:        a.ID.Time,
	}
	for _, ev := range a.Events {
		raw := models.RawAuditEvent{Type: ev.Type, Name: ev.Name}
		for _, p := range ev.Parameters {
			raw.Params = append(raw.Params, flatten(p))
		}
		item.Events = append(item.Events, raw)
	}
	return item
}

func flatten(p parameter) models.AuditParam {
	out := models.AuditParam{Name: p.Name, Value: p.Value, Values: p.MultiValue}
	switch {
	case p.BoolValue != nil:
		out.Value = strconv.FormatBool(*p.BoolValue)
	case p.IntValue != "":
		out.Value = p.IntValue
	case p.MessageValue != nil:
		var parts []string
		for _, sub := range p.MessageValue.Parameter {
			if f := flatten(sub); f.Value != "" {
				parts = append(parts, sub.Name+"="+f.Value)
			}
		}
		out.Value = strings.Join(parts, " ")
	}
	return out
}
