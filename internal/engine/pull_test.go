package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-labs/crmsync/internal/ledger"
	"github.com/vertex-labs/crmsync/internal/model"
	"github.com/vertex-labs/crmsync/pkg/ghl"
)

func newTestPuller(st *fakeStore, crm *fakeCRM, cfg PullConfig) (*Puller, *ledger.Ledger) {
	led := ledger.New(ledger.Options{ProgressEvery: 1000})
	cfg.Retry = fastEngineRetry()
	if cfg.LocationID == "" {
		cfg.LocationID = "loc-1"
	}
	if cfg.NoteUserID == "" {
		cfg.NoteUserID = "user-1"
	}
	return NewPuller(st, crm, led, cfg), led
}

func TestPull_UpsertsAndNotesFreshInserts(t *testing.T) {
	st := &fakeStore{known: map[string]bool{"c-known": true}}
	crm := newFakeCRM()
	crm.pages = []*ghl.SearchPage{
		{
			Total: 2,
			Contacts: []model.RemoteContact{
				{ID: "c-new", FirstName: "Ana", Email: "ana@example.com", DateAdded: "2026-08-01T10:00:00Z", SearchAfter: []any{float64(1), "c-new"}},
				{ID: "c-known", FirstName: "Bob", SearchAfter: []any{float64(2), "c-known"}},
			},
		},
	}

	p, led := newTestPuller(st, crm, PullConfig{PageLimit: 2})
	require.NoError(t, p.Run(context.Background()))

	processed, ok, fail, dup := led.Totals()
	assert.EqualValues(t, 2, processed)
	assert.EqualValues(t, 2, ok)
	assert.Zero(t, fail)
	assert.Zero(t, dup)

	require.Len(t, st.upserts, 2)
	assert.Contains(t, crm.notes["c-new"], "Proposal Link:\n\nhttps://p.example.com/c-new",
		"fresh inserts get the warehouse proposal link written back")
	assert.Empty(t, crm.notes["c-known"], "already-known contacts get no note")

	sum := led.Summarize(0)
	assert.Equal(t, []string{"fact-c-new"}, sum.InsertedIDs)
	assert.Equal(t, []string{"fact-c-known"}, sum.UpdatedIDs)
	assert.Equal(t, `[2,"c-known"]`, sum.Cursor, "summary carries the resume cursor")
}

func TestPull_CursorAdvancesAcrossPages(t *testing.T) {
	st := &fakeStore{}
	crm := newFakeCRM()
	crm.pages = []*ghl.SearchPage{
		{Contacts: []model.RemoteContact{
			{ID: "c-1", SearchAfter: []any{float64(10), "c-1"}},
			{ID: "c-2", SearchAfter: []any{float64(20), "c-2"}},
		}},
		{Contacts: []model.RemoteContact{
			{ID: "c-3", SearchAfter: []any{float64(30), "c-3"}},
		}},
	}

	p, led := newTestPuller(st, crm, PullConfig{PageLimit: 2})
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, crm.searches, 2, "the short second page terminates the walk")
	assert.Nil(t, crm.searches[0].SearchAfter)
	assert.Equal(t, []any{float64(20), "c-2"}, crm.searches[1].SearchAfter,
		"each request carries the previous page's last token")

	processed, _, _, _ := led.Totals()
	assert.EqualValues(t, 3, processed)
}

func TestPull_NormalizesRemoteFields(t *testing.T) {
	st := &fakeStore{}
	crm := newFakeCRM()
	crm.pages = []*ghl.SearchPage{
		{Contacts: []model.RemoteContact{{
			ID:        "c-1",
			FirstName: "Ana",
			Email:     " Ana@Example.COM ",
			Phone:     "(555) 123-4567",
			Country:   "United States",
			Type:      "author",
			CustomFields: []model.CustomField{
				{ID: cfContactPublisher, Value: "pub-1"},
				{ID: cfContactTimezone, Value: "America/Chicago"},
			},
			SearchAfter: []any{float64(1), "c-1"},
		}}},
	}

	p, _ := newTestPuller(st, crm, PullConfig{PageLimit: 10})
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, st.upserts, 1)
	up := st.upserts[0]
	assert.Equal(t, "ana@example.com", up.Email)
	assert.Equal(t, "5551234567", up.Phone)
	assert.Equal(t, "US", up.Country)
	assert.Equal(t, "pub-1", up.Publisher)
	assert.Equal(t, "America/Chicago", up.TimeZone)
	assert.True(t, up.IsAuthor)
}

func TestPull_LimitBoundsRun(t *testing.T) {
	st := &fakeStore{}
	crm := newFakeCRM()
	crm.pages = []*ghl.SearchPage{
		{Contacts: []model.RemoteContact{
			{ID: "c-1", SearchAfter: []any{float64(1), "c-1"}},
			{ID: "c-2", SearchAfter: []any{float64(2), "c-2"}},
		}},
	}

	p, led := newTestPuller(st, crm, PullConfig{PageLimit: 5, Limit: 2})
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, crm.searches, 1)
	assert.Equal(t, 2, crm.searches[0].PageLimit, "the request is clamped to the remaining budget")
	processed, _, _, _ := led.Totals()
	assert.EqualValues(t, 2, processed)
}
