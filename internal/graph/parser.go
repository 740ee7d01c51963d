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

package graph

import (
	"strings"

	"github.com/bcem/forensics/internal/models"
)

// graphMessage is the subset of the Graph message resource we select.
type graphMessage struct {
	ID               string `json:"id"`
	ConversationID   string `json:"conversationId"`
	ReceivedDateTime string `json:"receivedDateTime"`
	SentDateTime     string `json:"sentDateTime"`
	IsDraft          bool   `json:"isDraft"`
	ParentFolderID   string `json:"parentFolderId"`
	From             struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
}

// toRaw maps a Graph message onto the provider-neutral raw shape. Graph
// exposes no folder names on a message, so a message sent by the mailbox
// owner is labelled SENT and an unsent draft DRAFT, matching Gmail labels.
func toRaw(msg *graphMessage, mailbox string) *models.RawMessage {
	raw := &models.RawMessage{
		Provider: Provider,
		Mailbox:  mailbox,
		NativeID: msg.ID,
		ThreadID: msg.ConversationID,
		Folder:   msg.ParentFolderID,
		Received: msg.ReceivedDateTime,
	}

	switch {
	case msg.IsDraft:
		raw.Labels = []string{"DRAFT"}
	case strings.EqualFold(msg.From.EmailAddress.Address, mailbox):
		raw.Labels = []string{"SENT"}
		if msg.SentDateTime != "" {
			raw.Received = msg.SentDateTime
		}
	}

	// Graph omits internetMessageHeaders for drafts and some sent items.
	for _, h := range msg.InternetMessageHeaders {
		raw.Headers = append(raw.Headers, models.HeaderField{Name: h.Name, Value: h.Value})
	}
	return raw
}
