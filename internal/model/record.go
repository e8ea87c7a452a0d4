// Package model defines the records flowing through the reconciliation
// pipeline and the normalization rules applied to their fields.
package model

import "strings"

// DuplicateSentinel is the value written into both remote-id columns of a
// warehouse row once it has been confirmed as a duplicate on the remote side.
// Rows carrying the sentinel are skipped without any remote call.
const DuplicateSentinel = "DUPLICATE"

// CandidateRecord is one warehouse row queued for reconciliation against the
// CRM. It is a read-only snapshot; outcomes are written back through the
// store keyed by FactID.
type CandidateRecord struct {
	FactID        string `json:"fact_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone_number"`
	AddressLine1  string `json:"address_line1"`
	City          string `json:"city"`
	StateRegion   string `json:"state_region"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	TimeZone      string `json:"time_zone"`
	Website       string `json:"website_landing_page"`
	Source        string `json:"source"`
	LeadSource    string `json:"lead_source"`
	LeadOwner     string `json:"lead_owner"`
	Publisher     string `json:"publisher"`
	Rating        string `json:"rating"`
	IsAuthor      bool   `json:"is_author"`
	Genre         string `json:"genre"`
	WritingStatus string `json:"writing_status"`
	BookDesc      string `json:"book_description"`
	Outreach      int    `json:"outreach_attempt"`
	OptOutEmail   bool   `json:"opt_out_of_email"`
	Notes         string `json:"notes"`
	ProposalURL   string `json:"einstein_url"`
	PipelineID    string `json:"pipeline_id"`
	StageID       string `json:"stage_id"`

	// Remote identifiers already known to the warehouse; empty when the
	// record has never been pushed.
	ContactID     string `json:"ghl_contact_id"`
	OpportunityID string `json:"ghl_opportunity_id"`
}

// Name returns the display name for the record, falling back to the
// "Unprovided" placeholder when both name parts are blank.
func (r CandidateRecord) Name() string {
	n := strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
	if n == "" {
		return Unprovided
	}
	return n
}

// KnownDuplicate reports whether the row carries the duplicate sentinel pair.
func (r CandidateRecord) KnownDuplicate() bool {
	return r.ContactID == DuplicateSentinel && r.OpportunityID == DuplicateSentinel
}

// RemoteContact is a contact as returned by the CRM search endpoint. The
// SearchAfter token on the last contact of a page drives cursor pagination.
type RemoteContact struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
	Email        string        `json:"email"`
	Phone        string        `json:"phone"`
	Address1     string        `json:"address1"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	PostalCode   string        `json:"postalCode"`
	Country      string        `json:"country"`
	Source       string        `json:"source"`
	Type         string        `json:"type"`
	AssignedTo   string        `json:"assignedTo"`
	DND          bool          `json:"dnd"`
	DateAdded    string        `json:"dateAdded"`
	CustomFields []CustomField `json:"customFields"`
	SearchAfter  []any         `json:"searchAfter"`
}

// CustomField is one id/value pair attached to a remote contact.
type CustomField struct {
	ID    string `json:"id"`
	Key   string `json:"key,omitempty"`
	Value any    `json:"field_value"`
}

// CustomFieldValue returns the string value of the custom field with the
// given id, or "" when absent.
func (r RemoteContact) CustomFieldValue(id string) string {
	for _, f := range r.CustomFields {
		if f.ID == id {
			if s, ok := f.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// FullAddress joins the non-empty address parts with commas, matching the
// warehouse full_address convention.
func (r RemoteContact) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.Address1, r.City, r.State, r.PostalCode} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
