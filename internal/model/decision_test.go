package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUpdate_RequiresRealID(t *testing.T) {
	_, err := NewUpdate("")
	assert.Error(t, err)

	_, err = NewUpdate(DuplicateSentinel)
	assert.Error(t, err, "the sentinel is not a usable contact id")

	d, err := NewUpdate("abc123")
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, d.Kind)
	assert.Equal(t, "abc123", d.ContactID)
}

func TestKnownDuplicate(t *testing.T) {
	assert.True(t, CandidateRecord{ContactID: DuplicateSentinel, OpportunityID: DuplicateSentinel}.KnownDuplicate())
	assert.False(t, CandidateRecord{ContactID: DuplicateSentinel}.KnownDuplicate(), "both ids must carry the sentinel")
	assert.False(t, CandidateRecord{ContactID: "real", OpportunityID: "real"}.KnownDuplicate())
}

func TestRecordName(t *testing.T) {
	assert.Equal(t, "Jane Doe", CandidateRecord{FirstName: "Jane", LastName: "Doe"}.Name())
	assert.Equal(t, "Jane", CandidateRecord{FirstName: " Jane "}.Name())
	assert.Equal(t, Unprovided, CandidateRecord{}.Name())
}

func TestRemoteContactHelpers(t *testing.T) {
	c := RemoteContact{
		Address1:   "1 Main St",
		City:       "Austin",
		State:      "TX",
		PostalCode: "78701",
		CustomFields: []CustomField{
			{ID: "f1", Value: "publisher-a"},
			{ID: "f2", Value: 42},
		},
	}
	assert.Equal(t, "1 Main St, Austin, TX, 78701", c.FullAddress())
	assert.Equal(t, "publisher-a", c.CustomFieldValue("f1"))
	assert.Empty(t, c.CustomFieldValue("f2"), "non-string values read as empty")
	assert.Empty(t, c.CustomFieldValue("missing"))
}
