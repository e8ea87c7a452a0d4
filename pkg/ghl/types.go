package ghl

import (
	"encoding/json"
	"strings"

	"github.com/vertex-labs/crmsync/internal/model"
)

// ContactPayload is the create/update body for a CRM contact.
type ContactPayload struct {
	FirstName    string              `json:"firstName"`
	LastName     string              `json:"lastName"`
	Name         string              `json:"name"`
	LocationID   string              `json:"locationId,omitempty"`
	Email        string              `json:"email,omitempty"`
	Phone        string              `json:"phone,omitempty"`
	Address1     string              `json:"address1"`
	City         string              `json:"city"`
	State        string              `json:"state"`
	PostalCode   string              `json:"postalCode"`
	Website      string              `json:"website"`
	Timezone     string              `json:"timezone"`
	Country      string              `json:"country"`
	Source       string              `json:"source"`
	AssignedTo   string              `json:"assignedTo,omitempty"`
	DND          bool                `json:"dnd"`
	CustomFields []model.CustomField `json:"customFields,omitempty"`
	DNDSettings  *DNDSettings        `json:"dndSettings,omitempty"`
}

// DNDSettings mirrors the CRM's per-channel do-not-disturb block.
type DNDSettings struct {
	Email DNDChannel `json:"Email"`
}

// DNDChannel is one channel's DND state.
type DNDChannel struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewDNDSettings builds the email DND block from an opt-out flag.
func NewDNDSettings(optOut bool) *DNDSettings {
	status := "inactive"
	if optOut {
		status = "active"
	}
	return &DNDSettings{Email: DNDChannel{Status: status}}
}

// OpportunityPayload is the create body for a CRM opportunity.
type OpportunityPayload struct {
	PipelineID      string              `json:"pipelineId"`
	LocationID      string              `json:"locationId"`
	Name            string              `json:"name"`
	PipelineStageID string              `json:"pipelineStageId"`
	Status          string              `json:"status"`
	ContactID       string              `json:"contactId"`
	AssignedTo      string              `json:"assignedTo,omitempty"`
	Source          string              `json:"source"`
	CustomFields    []model.CustomField `json:"customFields,omitempty"`
}

// SearchRequest is the paginated contact search body. SearchAfter is the
// opaque cursor taken from the last contact of the previous page; the
// terminal condition is an empty result page.
type SearchRequest struct {
	LocationID  string `json:"locationId"`
	Page        int    `json:"page"`
	PageLimit   int    `json:"pageLimit"`
	SearchAfter []any  `json:"searchAfter,omitempty"`
}

// SearchPage is one page of contact search results.
type SearchPage struct {
	Contacts []model.RemoteContact `json:"contacts"`
	Total    int                   `json:"total"`
}

// NextCursor returns the cursor token for the following page, or nil when
// the page is empty.
func (p *SearchPage) NextCursor() []any {
	if len(p.Contacts) == 0 {
		return nil
	}
	return p.Contacts[len(p.Contacts)-1].SearchAfter
}

// notePayload is the create body for a contact note.
type notePayload struct {
	UserID string `json:"userId"`
	Body   string `json:"body"`
}

// apiError is the CRM's JSON error envelope. Message is sometimes a string
// and sometimes an array of strings.
type apiError struct {
	Message json.RawMessage `json:"message"`
	Meta    struct {
		ContactID string `json:"contactId"`
	} `json:"meta"`
}

func (e *apiError) messageString() string {
	if len(e.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(e.Message, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return string(e.Message)
}

type contactEnvelope struct {
	Contact struct {
		ID string `json:"id"`
	} `json:"contact"`
}

type opportunityEnvelope struct {
	Opportunity struct {
		ID string `json:"id"`
	} `json:"opportunity"`
}

type noteEnvelope struct {
	Note struct {
		ID string `json:"id"`
	} `json:"note"`
}
