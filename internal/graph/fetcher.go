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

// Package graph implements the mailbox query service for Microsoft 365
// using the Microsoft Graph messages API.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bcem/forensics/internal/apiclient"
	"github.com/bcem/forensics/internal/models"
)

const (
	// DefaultBaseURL is the Graph v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	// Provider tags raw messages fetched by this package.
	Provider = "m365"

	selectFields = "id,conversationId,receivedDateTime,sentDateTime,isDraft,from,parentFolderId,internetMessageHeaders"
)

// Fetcher searches and fetches messages through the Graph API. The
// http.Client must carry an application token with Mail.Read.
type Fetcher struct {
	api          *apiclient.Client
	graphBaseURL string
}

// NewFetcher creates a Graph message fetcher.
func NewFetcher(httpClient *http.Client, graphBaseURL string, opts apiclient.Options) *Fetcher {
	if graphBaseURL == "" {
		graphBaseURL = DefaultBaseURL
	}
	return &Fetcher{
		api:          apiclient.New(httpClient, opts),
		graphBaseURL: graphBaseURL,
	}
}

// messagesResponse represents a page of the /messages list response.
type messagesResponse struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// Search lists message ids in a mailbox. A query starting with "$filter="
// is sent as an OData filter; anything else is a KQL $search string.
func (f *Fetcher) Search(ctx context.Context, mailbox, query string) ([]models.MessageRef, error) {
	params := url.Values{}
	params.Set("$select", "id")
	params.Set("$top", "50")
	headers := map[string]string{"Prefer": "odata.maxpagesize=50"}

	switch {
	case strings.HasPrefix(query, "$filter="):
		params.Set("$filter", strings.TrimPrefix(query, "$filter="))
	case query != "":
		params.Set("$search", `"`+strings.ReplaceAll(query, `"`, `\"`)+`"`)
		headers["ConsistencyLevel"] = "eventual"
	}

	listURL := fmt.Sprintf("%s/users/%s/messages?%s", f.graphBaseURL, url.PathEscape(mailbox), params.Encode())

	var refs []models.MessageRef
	pageCount := 0
	for nextURL := listURL; nextURL != ""; pageCount++ {
		var page messagesResponse
		if _, err := f.api.GetJSON(ctx, nextURL, headers, &page); err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pageCount, err)
		}
		for _, m := range page.Value {
			refs = append(refs, models.MessageRef{Provider: Provider, Mailbox: mailbox, ID: m.ID})
		}

		slog.Debug("graph search page fetched",
			"mailbox", mailbox,
			"page", pageCount,
			"messages", len(page.Value),
		)
		nextURL = page.NextLink
	}
	return refs, nil
}

// Fetch retrieves a message's metadata and internet headers.
func (f *Fetcher) Fetch(ctx context.Context, ref models.MessageRef) (*models.RawMessage, error) {
	u := fmt.Sprintf("%s/users/%s/messages/%s?$select=%s",
		f.graphBaseURL, url.PathEscape(ref.Mailbox), url.PathEscape(ref.ID), selectFields)

	var msg graphMessage
	if _, err := f.api.GetJSON(ctx, u, nil, &msg); err != nil {
		if apiclient.IsNotFound(err) {
			slog.Warn("message not found (may have been deleted)",
				"mailbox", ref.Mailbox,
				"native_id", ref.ID,
			)
			return &models.RawMessage{
				Provider:   Provider,
				Mailbox:    ref.Mailbox,
				NativeID:   ref.ID,
				FetchError: "message not found",
			}, nil
		}
		return nil, fmt.Errorf("fetch message %s: %w", ref.ID, err)
	}

	return toRaw(&msg, ref.Mailbox), nil
}
