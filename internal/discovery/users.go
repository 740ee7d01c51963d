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

// Package discovery lists the identities of a tenant from its directory
// (Microsoft Graph /users or the Google Admin Directory API) and applies
// config-driven include and exclude lists.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bcem/forensics/internal/apiclient"
)

const (
	// DefaultGraphURL is the Microsoft Graph root.
	DefaultGraphURL = "https://graph.microsoft.com/v1.0"
	// DefaultGoogleURL is the Admin SDK Directory API root.
	DefaultGoogleURL = "https://admin.googleapis.com/admin/directory/v1"
)

// UserInfo represents a discovered mailbox user.
type UserInfo struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Suspended         bool   `json:"suspended,omitempty"`
}

// Directory lists every user of a tenant.
type Directory interface {
	ListUsers(ctx context.Context) ([]UserInfo, error)
}

// Discover returns the identities an investigation should cover.
//
// Hybrid strategy:
//   - If includeUsers is non-empty, returns only those users (no directory call).
//   - Otherwise, lists every user with a mailbox from the directory.
//   - In both cases, excludeUsers are removed from the final set.
//
// The result is sorted by address.
func Discover(
	ctx context.Context,
	dir Directory,
	tenantAlias string,
	includeUsers []string,
	excludeUsers []string,
) ([]UserInfo, error) {
	excludeSet := make(map[string]bool, len(excludeUsers))
	for _, u := range excludeUsers {
		excludeSet[strings.ToLower(u)] = true
	}

	var users []UserInfo

	if len(includeUsers) > 0 {
		slog.Info("using explicit user list",
			"tenant", tenantAlias,
			"count", len(includeUsers),
		)
		for _, mail := range includeUsers {
			if excludeSet[strings.ToLower(mail)] {
				continue
			}
			users = append(users, UserInfo{Mail: mail, UserPrincipalName: mail})
		}
		return sortUsers(users), nil
	}

	slog.Info("discovering directory users", "tenant", tenantAlias)

	listed, err := dir.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users for %s: %w", tenantAlias, err)
	}
	for _, u := range listed {
		// Skip users without a mailbox
		if u.Mail == "" {
			continue
		}
		if excludeSet[strings.ToLower(u.Mail)] {
			slog.Debug("excluding user", "mail", u.Mail, "tenant", tenantAlias)
			continue
		}
		users = append(users, u)
	}

	slog.Info("directory discovery complete",
		"tenant", tenantAlias,
		"discovered", len(users),
	)

	return sortUsers(users), nil
}

// Addresses returns the mail addresses of users, in order.
func Addresses(users []UserInfo) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, strings.ToLower(u.Mail))
	}
	return out
}

func sortUsers(users []UserInfo) []UserInfo {
	sort.SliceStable(users, func(i, j int) bool {
		return strings.ToLower(users[i].Mail) < strings.ToLower(users[j].Mail)
	})
	return users
}

// GraphDirectory lists licensed users from Microsoft Graph.
type GraphDirectory struct {
	api          *apiclient.Client
	graphBaseURL string
}

// NewGraphDirectory creates a Graph directory. The httpClient must already
// carry Graph application credentials.
func NewGraphDirectory(httpClient *http.Client, graphBaseURL string, opts apiclient.Options) *GraphDirectory {
	if graphBaseURL == "" {
		graphBaseURL = DefaultGraphURL
	}
	return &GraphDirectory{api: apiclient.New(httpClient, opts), graphBaseURL: graphBaseURL}
}

// graphUsersResponse represents the paged Graph API /users response.
type graphUsersResponse struct {
	Value    []UserInfo `json:"value"`
	NextLink string     `json:"@odata.nextLink"`
}

// ListUsers returns every user with an assigned license.
func (d *GraphDirectory) ListUsers(ctx context.Context) ([]UserInfo, error) {
	params := url.Values{}
	params.Set("$filter", "assignedLicenses/$count ne 0")
	params.Set("$count", "true")
	params.Set("$select", "id,mail,displayName,userPrincipalName")
	params.Set("$top", "100")

	headers := map[string]string{"ConsistencyLevel": "eventual"} // Required for $count

	var users []UserInfo
	for next := fmt.Sprintf("%s/users?%s", d.graphBaseURL, params.Encode()); next != ""; {
		var page graphUsersResponse
		if _, err := d.api.GetJSON(ctx, next, headers, &page); err != nil {
			return nil, fmt.Errorf("fetch users: %w", err)
		}
		users = append(users, page.Value...)
		next = page.NextLink
	}
	return users, nil
}

// GoogleDirectory lists users from the Admin SDK Directory API.
type GoogleDirectory struct {
	api     *apiclient.Client
	baseURL string
	// Customer is the account id; "my_customer" means the admin's own.
	Customer string
}

// NewGoogleDirectory creates a Google directory. The httpClient must carry
// a delegated admin token with the directory.user.readonly scope.
func NewGoogleDirectory(httpClient *http.Client, baseURL string, opts apiclient.Options) *GoogleDirectory {
	if baseURL == "" {
		baseURL = DefaultGoogleURL
	}
	return &GoogleDirectory{api: apiclient.New(httpClient, opts), baseURL: baseURL, Customer: "my_customer"}
}

type googleUsersResponse struct {
	Users []struct {
		ID           string `json:"id"`
		PrimaryEmail string `json:"primaryEmail"`
		Suspended    bool   `json:"suspended"`
		Name         struct {
			FullName string `json:"fullName"`
		} `json:"name"`
	} `json:"users"`
	NextPageToken string `json:"nextPageToken"`
}

// ListUsers returns every user of the customer, including suspended accounts.
func (d *GoogleDirectory) ListUsers(ctx context.Context) ([]UserInfo, error) {
	var users []UserInfo
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("customer", d.Customer)
		params.Set("maxResults", "500")
		params.Set("orderBy", "email")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page googleUsersResponse
		if _, err := d.api.GetJSON(ctx, d.baseURL+"/users?"+params.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("fetch users: %w", err)
		}
		for _, u := range page.Users {
			users = append(users, UserInfo{
				ID:                u.ID,
				Mail:              u.PrimaryEmail,
				DisplayName:       u.Name.FullName,
				UserPrincipalName: u.PrimaryEmail,
				Suspended:         u.Suspended,
			})
		}
		if page.NextPageToken == "" {
			return users, nil
		}
		pageToken = page.NextPageToken
	}
}
