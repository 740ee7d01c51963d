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

// Package gmail implements the mailbox query service for Google Workspace
// using the Gmail REST API with domain-wide delegation.
//
// API docs: https://developers.google.com/gmail/api/reference/rest
package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/bcem/forensics/internal/apiclient"
	"github.com/bcem/forensics/internal/models"
)

const (
	// DefaultBaseURL is the root of the Gmail API.
	DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	// Provider tags raw messages fetched by this package.
	Provider = "google"

	pageSize = 500
)

// HTTPClientFunc returns an authenticated client acting as the given
// mailbox. With domain-wide delegation each mailbox needs its own token.
type HTTPClientFunc func(mailbox string) *http.Client

// Client searches and fetches Gmail messages. Each mailbox gets its own
// rate limiter because Gmail quotas are per user.
type Client struct {
	baseURL    string
	clientFor  HTTPClientFunc
	opts       apiclient.Options
	mu         sync.Mutex
	perMailbox map[string]*apiclient.Client
}

// NewClient creates a Gmail client.
func NewClient(clientFor HTTPClientFunc, baseURL string, opts apiclient.Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		clientFor:  clientFor,
		opts:       opts,
		perMailbox: make(map[string]*apiclient.Client),
	}
}

func (c *Client) api(mailbox string) *apiclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.perMailbox[mailbox]; ok {
		return a
	}
	a := apiclient.New(c.clientFor(mailbox), c.opts)
	c.perMailbox[mailbox] = a
	return a
}

type listResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// Search lists every message in mailbox matching a Gmail search query.
// The query is passed through unchanged.
func (c *Client) Search(ctx context.Context, mailbox, query string) ([]models.MessageRef, error) {
	api := c.api(mailbox)

	var refs []models.MessageRef
	pageToken := ""
	for page := 0; ; page++ {
		params := url.Values{}
		params.Set("maxResults", strconv.Itoa(pageSize))
		if query != "" {
			params.Set("q", query)
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		u := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, url.PathEscape(mailbox), params.Encode())

		var resp listResponse
		if _, err := api.GetJSON(ctx, u, nil, &resp); err != nil {
			return nil, fmt.Errorf("list messages page %d: %w", page, err)
		}
		for _, m := range resp.Messages {
			refs = append(refs, models.MessageRef{Provider: Provider, Mailbox: mailbox, ID: m.ID})
		}

		slog.Debug("gmail search page fetched", "mailbox", mailbox, "page", page, "messages", len(resp.Messages))

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return refs, nil
}

type messageResponse struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	InternalDate string   `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// Fetch retrieves a message's headers and metadata. A message deleted
// since the search is returned with FetchError set, not as an error.
func (c *Client) Fetch(ctx context.Context, ref models.MessageRef) (*models.RawMessage, error) {
	u := fmt.Sprintf("%s/users/%s/messages/%s?format=metadata",
		c.baseURL, url.PathEscape(ref.Mailbox), url.PathEscape(ref.ID))

	var resp messageResponse
	if _, err := c.api(ref.Mailbox).GetJSON(ctx, u, nil, &resp); err != nil {
		if apiclient.IsNotFound(err) {
			slog.Warn("message not found (may have been deleted)", "mailbox", ref.Mailbox, "native_id", ref.ID)
			return &models.RawMessage{
				Provider:   Provider,
				Mailbox:    ref.Mailbox,
				NativeID:   ref.ID,
				FetchError: "message not found",
			}, nil
		}
		return nil, fmt.Errorf("get message %s: %w", ref.ID, err)
	}

	raw := &models.RawMessage{
		Provider: Provider,
		Mailbox:  ref.Mailbox,
		NativeID: resp.ID,
		ThreadID: resp.ThreadID,
		Labels:   resp.LabelIDs,
		Received: resp.InternalDate,
	}
	for _, h := range resp.Payload.Headers {
		raw.Headers = append(raw.Headers, models.HeaderField{Name: h.Name, Value: h.Value})
	}
	return raw, nil
}
