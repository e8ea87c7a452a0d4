package engine

import (
	"strconv"

	"github.com/vertex-labs/crmsync/internal/model"
	"github.com/vertex-labs/crmsync/pkg/ghl"
)

// CRM custom field ids. These are stable per CRM location; the values here
// match the production location's field registry.
const (
	cfContactPublisher    = "AMgJg4wIu7GKV02OGxD3"
	cfContactTimezone     = "fFWUJ9OFbYBqVJjwjQGP"
	cfContactCampaigns    = "ZXykBROLtnEh5A5vaT2B"
	cfContactSourceDetail = "IjmRpmQlwHiJjGnTLptG"
	cfContactSourceValue  = "JMwy9JsVRTTzg4PDQnhk"

	cfOppPublisher      = "ggsTQrS88hJgLI5J5604"
	cfOppTimezone       = "gsFwmLo8XyzCjIoXxXYQ"
	cfOppActiveAuthor   = "4P0Yd0fLzOfns3opxTGo"
	cfOppGenre          = "5wlgHZzuWLyr918dMh7y"
	cfOppWritingProcess = "cG5oYGyyKmEWwzn7y8HA"
	cfOppOutreach       = "BOGtp8xLezwurePxIkNE"
	cfOppProposalLink   = "5lDyHBJDAukD5YM7M4WG"
	cfOppBookDesc       = "aOH64ZsyJ5blAZtf9IxK"
	cfOppPipelineBackup = "uUEENCZJBnr0mjbuPe98"
	cfOppSourceValue    = "UAjLmcYVz1hdI4sPVKSr"
)

// buildContactPayload maps a warehouse record onto the CRM contact body.
// The normalized email is returned separately so the caller can report a
// data-quality entry when the raw value could not be repaired.
func buildContactPayload(rec model.CandidateRecord, owner, locationID string) (ghl.ContactPayload, string) {
	payload := ghl.ContactPayload{
		FirstName:  model.OrUnprovided(rec.FirstName),
		LastName:   model.OrUnprovided(rec.LastName),
		Name:       rec.Name(),
		LocationID: locationID,
		Address1:   model.OrUnprovided(rec.AddressLine1),
		City:       model.OrUnprovided(rec.City),
		State:      model.OrUnprovided(rec.StateRegion),
		PostalCode: model.OrUnprovided(rec.PostalCode),
		Website:    model.OrUnprovided(rec.Website),
		Timezone:   model.OrUnprovided(rec.TimeZone),
		Country:    model.NormalizeCountry(rec.Country),
		Source:     model.OrUnprovided(rec.Source),
		AssignedTo: owner,
		DND:        rec.OptOutEmail,
		CustomFields: []model.CustomField{
			{ID: cfContactPublisher, Key: "publisher", Value: rec.Publisher},
			{ID: cfContactTimezone, Key: "timezone_c", Value: model.OrUnprovided(rec.TimeZone)},
			{ID: cfContactCampaigns, Key: "active_campaigns_c", Value: []string{}},
			{ID: cfContactSourceDetail, Key: "contact_source_detail", Value: model.OrUnprovided(rec.LeadSource)},
			{ID: cfContactSourceValue, Key: "source_detail_value_c", Value: model.OrUnprovided(rec.Website)},
		},
		DNDSettings: ghl.NewDNDSettings(rec.OptOutEmail),
	}

	email := model.NormalizeEmail(rec.Email)
	if email != "" {
		payload.Email = email
	}
	if phone := model.NormalizePhone(rec.Phone); phone != "" {
		payload.Phone = phone
	}
	return payload, email
}

// buildOpportunityPayload maps a warehouse record onto the CRM opportunity
// body, tied to the given contact.
func buildOpportunityPayload(rec model.CandidateRecord, contactID, owner, locationID string) ghl.OpportunityPayload {
	isAuthor := "No"
	if rec.IsAuthor {
		isAuthor = "Yes"
	}
	return ghl.OpportunityPayload{
		PipelineID:      rec.PipelineID,
		LocationID:      locationID,
		Name:            rec.Name(),
		PipelineStageID: rec.StageID,
		Status:          "open",
		ContactID:       contactID,
		AssignedTo:      owner,
		Source:          model.OrUnprovided(rec.Source),
		CustomFields: []model.CustomField{
			{ID: cfOppPublisher, Key: "publisher", Value: rec.Publisher},
			{ID: cfOppTimezone, Key: "timezone", Value: rec.TimeZone},
			{ID: cfOppActiveAuthor, Key: "active_or_past_author", Value: isAuthor},
			{ID: cfOppGenre, Key: "genre", Value: model.OrUnprovided(rec.Genre)},
			{ID: cfOppWritingProcess, Key: "writing_process", Value: rec.WritingStatus},
			{ID: cfOppOutreach, Key: "outreach_attempt", Value: strconv.Itoa(rec.Outreach)},
			{ID: cfOppProposalLink, Key: "proposal_link", Value: rec.ProposalURL},
			{ID: cfOppBookDesc, Key: "book_description", Value: rec.BookDesc},
			{ID: cfOppPipelineBackup, Key: "pipeline_backup", Value: rec.Rating},
			{ID: cfOppSourceValue, Key: "source_detail_value", Value: model.OrUnprovided(rec.Website)},
		},
	}
}
