package model

import "github.com/rotisserie/eris"

// DecisionKind is the routing decision made for a record after the
// existence check.
type DecisionKind string

const (
	DecisionInsert        DecisionKind = "insert"
	DecisionUpdate        DecisionKind = "update"
	DecisionSkipDuplicate DecisionKind = "skip_duplicate"
)

// Decision routes a record down the insert, update or skip path. The
// variant fields are validated at construction so downstream code never
// probes for optionally-present ids.
type Decision struct {
	Kind DecisionKind

	// ContactID is set for updates: the remote contact to write against.
	ContactID string
}

// NewInsert returns the decision for a record with no remote contact.
func NewInsert() Decision {
	return Decision{Kind: DecisionInsert}
}

// NewUpdate returns the decision for a record whose remote contact is
// already known. The id must be non-empty.
func NewUpdate(contactID string) (Decision, error) {
	if contactID == "" || contactID == DuplicateSentinel {
		return Decision{}, eris.Errorf("model: update decision requires a real contact id, got %q", contactID)
	}
	return Decision{Kind: DecisionUpdate, ContactID: contactID}, nil
}

// NewSkipDuplicate returns the terminal decision for a known duplicate.
func NewSkipDuplicate() Decision {
	return Decision{Kind: DecisionSkipDuplicate}
}

// OutcomeKind is the terminal state of one record's pipeline.
type OutcomeKind string

const (
	OutcomeOK        OutcomeKind = "ok"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeDuplicate OutcomeKind = "duplicate"
)

// ErrorKind classifies a failed or skipped record for the error export.
type ErrorKind string

const (
	ErrKindDuplicate    ErrorKind = "duplicate"
	ErrKindInvalidEmail ErrorKind = "invalid_email"
	ErrKindHTMLResponse ErrorKind = "html_response"
	ErrKindAPI          ErrorKind = "api_error"
	ErrKindDatastore    ErrorKind = "datastore_error"
)
