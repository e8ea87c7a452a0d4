package model

import "time"

// RemoteUpsert is a remote contact mapped onto warehouse columns, ready
// for the insert/update star-schema functions. Built by the pull pipeline
// from a RemoteContact plus its custom fields.
type RemoteUpsert struct {
	ContactID   string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	FullAddress string
	Address1    string
	City        string
	StateRegion string
	PostalCode  string
	Country     string
	TimeZone    string
	Source      string
	LandingPage string
	LeadSource  string
	LeadOwner   string
	Publisher   string
	IsAuthor    bool
	OptOutEmail bool
	CreatedAt   time.Time
}
