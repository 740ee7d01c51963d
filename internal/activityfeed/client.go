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

// Package activityfeed implements the account activity log service for
// Microsoft 365 using the Office 365 Management Activity API. Exchange
// mailbox audit events and Azure AD sign-in and consent events arrive as
// content blobs for a tenant-wide subscription.
//
// API docs: https://learn.microsoft.com/en-us/office/office-365-management-api/
package activityfeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bcem/forensics/internal/apiclient"
)

const (
	// DefaultBaseURL is the root of the Management Activity API.
	DefaultBaseURL = "https://manage.office.com/api/v1.0"

	ContentTypeExchange = "Audit.Exchange"
	ContentTypeAAD      = "Audit.AzureActiveDirectory"
	ContentTypeGeneral  = "Audit.General"
)

// contentTypes maps investigation application names onto content types.
var contentTypes = map[string]string{
	"exchange": ContentTypeExchange,
	"gmail":    ContentTypeExchange,
	"mail":     ContentTypeExchange,
	"login":    ContentTypeAAD,
	"token":    ContentTypeAAD,
	"aad":      ContentTypeAAD,
	"admin":    ContentTypeGeneral,
	"general":  ContentTypeGeneral,
}

// ContentType resolves an application name or a literal content type.
func ContentType(application string) (string, error) {
	if strings.HasPrefix(application, "Audit.") {
		return application, nil
	}
	if ct, ok := contentTypes[strings.ToLower(application)]; ok {
		return ct, nil
	}
	return "", fmt.Errorf("no activity feed content type for application %q", application)
}

// Client talks to the Office 365 Management Activity API.
type Client struct {
	httpClient *http.Client
	api        *apiclient.Client
	baseURL    string
	tenantID   string

	mu      sync.Mutex
	started map[string]bool
}

// NewClient creates an Activity Feed client. The httpClient must already
// handle authentication (client credentials for https://manage.office.com).
func NewClient(httpClient *http.Client, baseURL, tenantID string, opts apiclient.Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		api:        apiclient.New(httpClient, opts),
		baseURL:    baseURL,
		tenantID:   tenantID,
		started:    make(map[string]bool),
	}
}

// ContentBlob represents a blob reference returned by the list content endpoint.
type ContentBlob struct {
	ContentURI        string `json:"contentUri"`
	ContentID         string `json:"contentId"`
	ContentType       string `json:"contentType"`
	ContentCreated    string `json:"contentCreated"`
	ContentExpiration string `json:"contentExpiration"`
}

// StartSubscription activates a content type once per client.
// Calling it when the subscription is already active is a no-op.
func (c *Client) StartSubscription(ctx context.Context, contentType string) error {
	c.mu.Lock()
	done := c.started[contentType]
	c.mu.Unlock()
	if done {
		return nil
	}

	u := fmt.Sprintf("%s/%s/activity/feed/subscriptions/start?contentType=%s",
		c.baseURL, c.tenantID, url.QueryEscape(contentType))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("start subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		bodyStr := string(body)

		// AF20024 means "The subscription is already enabled"; treat as success
		if !(resp.StatusCode == http.StatusBadRequest && strings.Contains(bodyStr, "AF20024")) {
			return fmt.Errorf("start subscription failed (HTTP %d): %s", resp.StatusCode, bodyStr)
		}
	}

	c.mu.Lock()
	c.started[contentType] = true
	c.mu.Unlock()

	slog.Info("activity feed subscription active", "content_type", contentType)
	return nil
}

// ListContent returns available content blobs for one window of at most
// 24 hours, following NextPageUri pagination.
func (c *Client) ListContent(ctx context.Context, contentType string, startTime, endTime time.Time) ([]ContentBlob, error) {
	u := fmt.Sprintf("%s/%s/activity/feed/subscriptions/content?contentType=%s&startTime=%s&endTime=%s",
		c.baseURL, c.tenantID, url.QueryEscape(contentType),
		url.QueryEscape(startTime.UTC().Format(time.RFC3339)),
		url.QueryEscape(endTime.UTC().Format(time.RFC3339)),
	)

	var blobs []ContentBlob
	for next := u; next != ""; {
		var page []ContentBlob
		hdr, err := c.api.GetJSON(ctx, next, nil, &page)
		if err != nil {
			return nil, fmt.Errorf("list content: %w", err)
		}
		blobs = append(blobs, page...)
		next = hdr.Get("NextPageUri")
	}
	return blobs, nil
}

// FetchBlob downloads and parses a content blob into audit records.
func (c *Client) FetchBlob(ctx context.Context, blobURL string) ([]AuditRecord, error) {
	var records []AuditRecord
	if _, err := c.api.GetJSON(ctx, blobURL, nil, &records); err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}
	return records, nil
}
