package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertex-labs/crmsync/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func candidateRow(factID string) []any {
	first := "Ana"
	email := "ana@example.com"
	contactID := "c-1"
	outreach := 2
	isAuthor := true
	optOut := false
	return []any{
		factID, &first, (*string)(nil), &email, (*string)(nil),
		(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil),
		(*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil),
		(*string)(nil), &isAuthor, (*string)(nil), (*string)(nil), (*string)(nil),
		&outreach, &optOut, (*string)(nil), (*string)(nil),
		(*string)(nil), (*string)(nil), &contactID, (*string)(nil),
	}
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var candidateColumns = []string{
	"fact_id", "first_name", "last_name", "email", "phone_number",
	"address_line1", "city", "state_region", "postal_code", "country", "time_zone",
	"website_landing_page", "source", "lead_source", "lead_owner", "publisher",
	"rating", "is_author", "genre", "writing_status", "book_description",
	"outreach_attempt", "opt_out_of_email", "notes", "einstein_url",
	"pipeline_id", "stage_id", "ghl_contact_id", "ghl_opportunity_id",
}

func TestPostgres_FetchPage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM get_unassigned_contact_details_page").
		WithArgs(0, 2).
		WillReturnRows(pgxmock.NewRows(candidateColumns).
			AddRow(candidateRow("f1")...).
			AddRow(candidateRow("f2")...))

	page, err := s.FetchPage(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "f1", page[0].FactID)
	assert.Equal(t, "Ana", page[0].FirstName)
	assert.Empty(t, page[0].LastName, "NULL columns scan to empty strings")
	assert.Equal(t, "c-1", page[0].ContactID)
	assert.Equal(t, 2, page[0].Outreach)
	assert.True(t, page[0].IsAuthor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_KnownContactIDs(t *testing.T) {
	s, mock := newMockStore(t)

	ids := []string{"c-1", "c-2", "c-3"}
	mock.ExpectQuery("SELECT ghl_contact_id FROM fact_contacts").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"ghl_contact_id"}).AddRow("c-1").AddRow("c-3"))

	known, err := s.KnownContactIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.True(t, known["c-1"])
	assert.False(t, known["c-2"])
	assert.True(t, known["c-3"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_KnownContactIDsEmptySkipsQuery(t *testing.T) {
	s, mock := newMockStore(t)

	known, err := s.KnownContactIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, known)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AssignOwner(t *testing.T) {
	s, mock := newMockStore(t)

	owner := "owner-9"
	mock.ExpectQuery("get_pipeline_stage_and_do_round_robin").
		WithArgs("1. Hot", "Proposal Sent", "pub-1").
		WillReturnRows(pgxmock.NewRows([]string{"assigned_user_id"}).AddRow(&owner))

	got, err := s.AssignOwner(context.Background(), "1. Hot", "Proposal Sent", "pub-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-9", got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WriteBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update_last_assigned_at").
		WithArgs("owner-1", "f1", "c-1", "o-1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.WriteBack(context.Background(), "f1", "c-1", "o-1", "owner-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("mark_fact_contact_duplicate").
		WithArgs("f1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.MarkDuplicate(context.Background(), "f1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertFromRemote_Insert(t *testing.T) {
	s, mock := newMockStore(t)

	up := model.RemoteUpsert{
		ContactID: "c-1",
		FirstName: "Ana",
		LastName:  "Reyes",
		Email:     "ana@example.com",
		Country:   "US",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	proposal := "https://p.example.com/f-9"
	mock.ExpectQuery("insert_contact_to_star_schema").
		WithArgs(anyArgs(20)...).
		WillReturnRows(pgxmock.NewRows([]string{"fact_id", "einstein_url"}).AddRow("f-9", &proposal))

	res, err := s.UpsertFromRemote(context.Background(), up, false)
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, "f-9", res.FactID)
	assert.Equal(t, proposal, res.ProposalURL, "the generated proposal link comes back for the note write")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertFromRemote_Update(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("update_contact_in_star_schema_using_contact_id").
		WithArgs(anyArgs(18)...).
		WillReturnRows(pgxmock.NewRows([]string{"out_fact_id"}).AddRow("f-9"))

	res, err := s.UpsertFromRemote(context.Background(), model.RemoteUpsert{ContactID: "c-1"}, true)
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.Equal(t, "f-9", res.FactID)
	require.NoError(t, mock.ExpectationsWereMet())
}
