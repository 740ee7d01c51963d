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

package activityfeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/forensics/internal/models"
)

// maxWindow is the longest range ListContent accepts.
const maxWindow = 24 * time.Hour

// AuditRecord is a single record within a content blob. Only fields
// relevant to a mailbox compromise are parsed.
type AuditRecord struct {
	ID              string `json:"Id"`
	Operation       string `json:"Operation"`
	CreationTime    string `json:"CreationTime"`
	UserID          string `json:"UserId"`
	Workload        string `json:"Workload"`
	ResultStatus    string `json:"ResultStatus,omitempty"`
	ClientIP        string `json:"ClientIP,omitempty"`
	ClientIPAddress string `json:"ClientIPAddress,omitempty"`
	ObjectID        string `json:"ObjectId,omitempty"`

	// Exchange-specific fields
	MessageID     string      `json:"InternetMessageId,omitempty"`
	Subject       string      `json:"Subject,omitempty"`
	SenderAddress string      `json:"SenderAddress,omitempty"`
	Item          *mailItem   `json:"Item,omitempty"`
	AffectedItems []mailItem  `json:"AffectedItems,omitempty"`
	Folders       []folderRef `json:"Folders,omitempty"`

	// Azure AD fields
	ExtendedProperties []nameValue `json:"ExtendedProperties,omitempty"`
	Target             []struct {
		ID string `json:"ID"`
	} `json:"Target,omitempty"`
}

type mailItem struct {
	InternetMessageID string `json:"InternetMessageId"`
	Subject           string `json:"Subject"`
}

type folderRef struct {
	Path        string     `json:"Path"`
	FolderItems []mailItem `json:"FolderItems"`
}

type nameValue struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// List returns the audit items for identity in [start, end]. An identity
// of "" or "all" returns every user's records. The range is walked in
// 24 hour windows. A blob that cannot be fetched becomes an item with
// FetchError set; listing failures abort with an error.
func (c *Client) List(ctx context.Context, identity, application string, start, end time.Time) ([]models.RawAuditItem, error) {
	contentType, err := ContentType(application)
	if err != nil {
		return nil, err
	}
	if err := c.StartSubscription(ctx, contentType); err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() || end.Sub(start) > 7*maxWindow {
		// The feed only retains seven days of content.
		start = end.Add(-7 * maxWindow)
	}

	all := identity == "" || strings.EqualFold(identity, "all")

	var items []models.RawAuditItem
	for ws := start; ws.Before(end); ws = ws.Add(maxWindow) {
		we := ws.Add(maxWindow)
		if we.After(end) {
			we = end
		}

		slog.Debug("listing activity feed window",
			"content_type", contentType,
			"start", ws.Format(time.RFC3339),
			"end", we.Format(time.RFC3339),
		)

		blobs, err := c.ListContent(ctx, contentType, ws, we)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", ws.Format(time.RFC3339), err)
		}

		for _, blob := range blobs {
			records, err := c.FetchBlob(ctx, blob.ContentURI)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Error("failed to fetch blob", "blob_id", blob.ContentID, "error", err)
				items = append(items, models.RawAuditItem{
					ID:          "blob:" + blob.ContentID,
					Application: contentType,
					Actor:       identity,
					FetchError:  err.Error(),
				})
				continue
			}

			for i := range records {
				r := &records[i]
				if !all && !strings.EqualFold(r.UserID, identity) {
					continue
				}
				items = append(items, r.toRaw())
			}
		}
	}

	return items, nil
}

// toRaw maps a record onto the provider-neutral item shape. Bulk mailbox
// operations (MailItemsAccessed, SoftDelete, MoveToDeletedItems) list their
// messages as AffectedItems or FolderItems; each becomes its own sub-event.
func (r *AuditRecord) toRaw() models.RawAuditItem {
	ip := r.ClientIP
	if ip == "" {
		ip = r.ClientIPAddress
	}
	item := models.RawAuditItem{
		ID:          r.ID,
		Application: r.Workload,
		Actor:       r.UserID,
		IPAddress:   ip,
		Time:        r.CreationTime,
	}

	common := []models.AuditParam{{Name: "result_status", Value: r.ResultStatus}}
	for _, p := range r.ExtendedProperties {
		name := p.Name
		if strings.EqualFold(name, "ConsentAction.Permissions") {
			name = "scope"
		}
		common = append(common, models.AuditParam{Name: name, Value: p.Value})
	}
	if r.SenderAddress != "" {
		common = append(common, models.AuditParam{Name: "SenderAddress", Value: r.SenderAddress})
	}
	if app := r.appName(); app != "" {
		common = append(common, models.AuditParam{Name: "app_name", Value: app})
	}

	var mails []mailItem
	if r.Item != nil {
		mails = append(mails, *r.Item)
	}
	mails = append(mails, r.AffectedItems...)
	for _, f := range r.Folders {
		mails = append(mails, f.FolderItems...)
	}
	if len(mails) == 0 && r.MessageID != "" {
		mails = append(mails, mailItem{InternetMessageID: r.MessageID, Subject: r.Subject})
	}

	if len(mails) == 0 {
		item.Events = []models.RawAuditEvent{{Name: r.Operation, Params: common}}
		return item
	}
	for _, m := range mails {
		params := append([]models.AuditParam{
			{Name: "InternetMessageId", Value: m.InternetMessageID},
			{Name: "subject", Value: m.Subject},
		}, common...)
		item.Events = append(item.Events, models.RawAuditEvent{Name: r.Operation, Params: params})
	}
	return item
}

// appName returns the application of an Azure AD consent record.
func (r *AuditRecord) appName() string {
	if !strings.Contains(strings.ToLower(r.Operation), "consent") &&
		!strings.Contains(strings.ToLower(r.Operation), "permission grant") {
		return ""
	}
	if r.ObjectID != "" {
		return r.ObjectID
	}
	for _, t := range r.Target {
		if t.ID != "" {
			return t.ID
		}
	}
	return ""
}
