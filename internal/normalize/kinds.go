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
	"strings"

	"github.com/bcem/forensics/internal/models"
)

// auditKinds maps audit operation names (Google Reports event names and
// Office 365 Management Activity operations) to event kinds. Keys are
// lower case.
var auditKinds = map[string]models.EventKind{
	// Google login application
	"login_success":                    models.KindLogin,
	"login_failure":                    models.KindLogin,
	"login_challenge":                  models.KindLogin,
	"login_verification":               models.KindLogin,
	"suspicious_login":                 models.KindLogin,
	"suspicious_login_less_secure_app": models.KindLogin,

	// Google token application
	"authorize": models.KindTokenGrant,
	"revoke":    models.KindTokenRevoke,

	// Google gmail application
	"email_deleted":   models.KindDelete,
	"delete":          models.KindDelete,
	"trash":           models.KindDelete,
	"email_trashed":   models.KindDelete,
	"view":            models.KindView,
	"open":            models.KindView,
	"email_opened":    models.KindView,
	"send":            models.KindSend,
	"email_sent":      models.KindSend,
	"draft":           models.KindDraft,
	"draft_saved":     models.KindDraft,
	"forward":         models.KindForward,
	"email_forwarded": models.KindForward,
	"receive":         models.KindReceive,
	"delivery":        models.KindReceive,

	// Office 365 Exchange and Azure AD operations
	"sendas":                                 models.KindSend,
	"sendonbehalf":                           models.KindSend,
	"softdelete":                             models.KindDelete,
	"harddelete":                             models.KindDelete,
	"movetodeleteditems":                     models.KindDelete,
	"mailitemsaccessed":                      models.KindView,
	"messagereceived":                        models.KindReceive,
	"messagedelivered":                       models.KindReceive,
	"userloggedin":                           models.KindLogin,
	"userloginfailed":                        models.KindLogin,
	"mailboxlogin":                           models.KindLogin,
	"consent to application.":                models.KindTokenGrant,
	"add delegated permission grant.":        models.KindTokenGrant,
	"add app role assignment grant to user.": models.KindTokenGrant,
	"remove delegated permission grant.":     models.KindTokenRevoke,
}

// csvKinds maps the Event column of the flat-file export. Keys are lower case.
var csvKinds = map[string]models.EventKind{
	"send":      models.KindSend,
	"sent":      models.KindSend,
	"reply":     models.KindSend,
	"receive":   models.KindReceive,
	"received":  models.KindReceive,
	"delivery":  models.KindReceive,
	"delivered": models.KindReceive,
	"delete":    models.KindDelete,
	"deleted":   models.KindDelete,
	"trash":     models.KindDelete,
	"view":      models.KindView,
	"draft":     models.KindDraft,
	"forward":   models.KindForward,
}

func auditKind(name string) models.EventKind {
	key := strings.ToLower(strings.TrimSpace(name))
	if k, ok := auditKinds[key]; ok {
		return k
	}
	switch {
	case strings.Contains(key, "delete") || strings.Contains(key, "trash"):
		return models.KindDelete
	case strings.HasPrefix(key, "login") || strings.HasSuffix(key, "login"):
		return models.KindLogin
	}
	return models.KindOther
}

func csvKind(event string) models.EventKind {
	if k, ok := csvKinds[strings.ToLower(strings.TrimSpace(event))]; ok {
		return k
	}
	return models.KindOther
}
