package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertex-labs/crmsync/internal/ledger"
	"github.com/vertex-labs/crmsync/internal/model"
	"github.com/vertex-labs/crmsync/internal/resilience"
	"github.com/vertex-labs/crmsync/internal/store"
	"github.com/vertex-labs/crmsync/pkg/ghl"
)

// fakeStore serves records from memory and records every mutation.
type fakeStore struct {
	mu      sync.Mutex
	records []model.CandidateRecord
	known   map[string]bool

	fetchErr error

	writeBacks []writeBack
	duplicates []string
	owners     int
	upserts    []model.RemoteUpsert
}

type writeBack struct {
	factID, contactID, opportunityID, ownerID string
}

func (s *fakeStore) FetchPage(ctx context.Context, offset, limit int) ([]model.CandidateRecord, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

func (s *fakeStore) KnownContactIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if s.known[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (s *fakeStore) AssignOwner(ctx context.Context, rating, stage, publisher string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners++
	return fmt.Sprintf("owner-%d", s.owners), nil
}

func (s *fakeStore) WriteBack(ctx context.Context, factID, contactID, opportunityID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeBacks = append(s.writeBacks, writeBack{factID, contactID, opportunityID, ownerID})
	return nil
}

func (s *fakeStore) MarkDuplicate(ctx context.Context, factID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates = append(s.duplicates, factID)
	return nil
}

func (s *fakeStore) UpsertFromRemote(ctx context.Context, up model.RemoteUpsert, exists bool) (store.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, up)
	return store.UpsertResult{FactID: "fact-" + up.ContactID, ProposalURL: "https://p.example.com/" + up.ContactID, Inserted: !exists}, nil
}

func (s *fakeStore) Migrate(ctx context.Context) error { return nil }
func (s *fakeStore) Ping(ctx context.Context) error    { return nil }
func (s *fakeStore) Close() error                      { return nil }

// fakeCRM scripts per-record behavior by email.
type fakeCRM struct {
	mu sync.Mutex

	creates       []string
	updates       []string
	notes         map[string][]string
	opportunities []string
	searches      []ghl.SearchRequest
	pages         []*ghl.SearchPage

	createErr map[string]error
	dupMeta   map[string]string // email -> existing id returned as duplicate success
	nextID    int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		notes:     map[string][]string{},
		createErr: map[string]error{},
		dupMeta:   map[string]string{},
	}
}

func (c *fakeCRM) CreateContact(ctx context.Context, p ghl.ContactPayload) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.createErr[p.Email]; err != nil {
		return "", false, err
	}
	if id := c.dupMeta[p.Email]; id != "" {
		return id, true, nil
	}
	c.nextID++
	id := fmt.Sprintf("contact-%d", c.nextID)
	c.creates = append(c.creates, id)
	return id, false, nil
}

func (c *fakeCRM) UpdateContact(ctx context.Context, id string, p ghl.ContactPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, id)
	return nil
}

func (c *fakeCRM) SearchContacts(ctx context.Context, req ghl.SearchRequest) (*ghl.SearchPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches = append(c.searches, req)
	if len(c.pages) == 0 {
		return &ghl.SearchPage{}, nil
	}
	page := c.pages[0]
	c.pages = c.pages[1:]
	return page, nil
}

func (c *fakeCRM) CreateNote(ctx context.Context, contactID, userID, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes[contactID] = append(c.notes[contactID], body)
	return nil
}

func (c *fakeCRM) CreateOpportunity(ctx context.Context, p ghl.OpportunityPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("opp-%d", len(c.opportunities)+1)
	c.opportunities = append(c.opportunities, id)
	return id, nil
}

func fastEngineRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newTestEngine(st *fakeStore, crm *fakeCRM, cfg Config) (*Engine, *ledger.Ledger) {
	led := ledger.New(ledger.Options{OutDir: "", ProgressEvery: 1000})
	cfg.Retry = fastEngineRetry()
	if cfg.LocationID == "" {
		cfg.LocationID = "loc-1"
	}
	if cfg.NoteUserID == "" {
		cfg.NoteUserID = "user-1"
	}
	return New(st, crm, led, cfg), led
}

func TestRun_InsertUpdateSkipPartition(t *testing.T) {
	st := &fakeStore{
		records: []model.CandidateRecord{
			{FactID: "A", FirstName: "Ana", Email: "ana@example.com", ProposalURL: "https://p/1"},
			{FactID: "B", FirstName: "Bob", Email: "bob@example.com", ContactID: "contact-b", OpportunityID: "opp-b"},
			{FactID: "C", FirstName: "Cyd", ContactID: model.DuplicateSentinel, OpportunityID: model.DuplicateSentinel},
		},
		known: map[string]bool{"contact-b": true},
	}
	crm := newFakeCRM()
	eng, led := newTestEngine(st, crm, Config{Concurrency: 2, PageSize: 10})

	require.NoError(t, eng.Run(context.Background()))

	processed, ok, fail, dup := led.Totals()
	assert.EqualValues(t, 3, processed)
	assert.EqualValues(t, 2, ok)
	assert.EqualValues(t, 0, fail)
	assert.EqualValues(t, 1, dup)

	assert.Len(t, crm.creates, 1, "only A is created")
	assert.Equal(t, []string{"contact-b"}, crm.updates, "B is updated in place")
	assert.Empty(t, crm.notes[model.DuplicateSentinel], "the sentinel row makes no remote calls")

	// A: fresh contact gets proposal note and opportunity, then write-back.
	require.Len(t, st.writeBacks, 2)
	byFact := map[string]writeBack{}
	for _, wb := range st.writeBacks {
		byFact[wb.factID] = wb
	}
	assert.Equal(t, "contact-1", byFact["A"].contactID)
	assert.Equal(t, "opp-1", byFact["A"].opportunityID)
	assert.Equal(t, "opp-b", byFact["B"].opportunityID, "existing opportunity id is kept")
	assert.Contains(t, crm.notes["contact-1"], "Proposal Link:\n\nhttps://p/1")
	assert.Contains(t, crm.notes["contact-b"], "Proposal Link: N/A")
}

func TestRun_DuplicateWithIDSucceedsAndFlagsRow(t *testing.T) {
	st := &fakeStore{records: []model.CandidateRecord{
		{FactID: "A", FirstName: "Ana", Email: "ana@example.com"},
	}}
	crm := newFakeCRM()
	crm.dupMeta["ana@example.com"] = "existing-42"
	eng, led := newTestEngine(st, crm, Config{PageSize: 10})

	require.NoError(t, eng.Run(context.Background()))

	_, ok, fail, dup := led.Totals()
	assert.EqualValues(t, 1, ok, "duplicate with a reported id resolves as success")
	assert.Zero(t, fail)
	assert.Zero(t, dup)
	assert.Equal(t, []string{"A"}, st.duplicates, "the row is still flagged for future runs")
	require.Len(t, st.writeBacks, 1)
	assert.Equal(t, "existing-42", st.writeBacks[0].contactID)
}

func TestRun_DuplicateWithoutIDSkips(t *testing.T) {
	st := &fakeStore{records: []model.CandidateRecord{
		{FactID: "A", FirstName: "Ana", Email: "ana@example.com"},
	}}
	crm := newFakeCRM()
	crm.createErr["ana@example.com"] = &resilience.DuplicateError{Message: "duplicated contacts"}
	eng, led := newTestEngine(st, crm, Config{PageSize: 10})

	require.NoError(t, eng.Run(context.Background()))

	_, ok, fail, dup := led.Totals()
	assert.Zero(t, ok)
	assert.Zero(t, fail)
	assert.EqualValues(t, 1, dup)
	assert.Equal(t, []string{"A"}, st.duplicates)
	assert.Empty(t, st.writeBacks, "no ids to write back")
	require.Len(t, led.Errors(), 1)
	assert.Equal(t, model.ErrKindDuplicate, led.Errors()[0].Kind)
}

func TestRun_OneFailureDoesNotAbortPage(t *testing.T) {
	st := &fakeStore{records: []model.CandidateRecord{
		{FactID: "A", FirstName: "Ana", Email: "ana@example.com"},
		{FactID: "B", FirstName: "Bad", Email: "bad@example.com"},
		{FactID: "C", FirstName: "Cyd", Email: "cyd@example.com"},
	}}
	crm := newFakeCRM()
	crm.createErr["bad@example.com"] = errors.New("create contact failed 403")
	eng, led := newTestEngine(st, crm, Config{PageSize: 10})

	require.NoError(t, eng.Run(context.Background()))

	processed, ok, fail, _ := led.Totals()
	assert.EqualValues(t, 3, processed)
	assert.EqualValues(t, 2, ok)
	assert.EqualValues(t, 1, fail)
}

func TestRun_InvalidEmailRecordedButRecordSucceeds(t *testing.T) {
	st := &fakeStore{records: []model.CandidateRecord{
		{FactID: "A", FirstName: "Ana", Email: "not an email"},
	}}
	crm := newFakeCRM()
	eng, led := newTestEngine(st, crm, Config{PageSize: 10})

	require.NoError(t, eng.Run(context.Background()))

	_, ok, fail, _ := led.Totals()
	assert.EqualValues(t, 1, ok, "the record still pushes without the email")
	assert.Zero(t, fail)
	require.Len(t, led.Errors(), 1)
	assert.Equal(t, model.ErrKindInvalidEmail, led.Errors()[0].Kind)
}

func TestRun_LimitAndPagination(t *testing.T) {
	records := make([]model.CandidateRecord, 25)
	for i := range records {
		records[i] = model.CandidateRecord{FactID: fmt.Sprintf("f%d", i), FirstName: "N", Email: fmt.Sprintf("n%d@example.com", i)}
	}
	st := &fakeStore{records: records}
	crm := newFakeCRM()
	eng, led := newTestEngine(st, crm, Config{PageSize: 10, Limit: 15})

	require.NoError(t, eng.Run(context.Background()))

	processed, _, _, _ := led.Totals()
	assert.EqualValues(t, 15, processed, "limit bounds the run")
}

func TestRun_FetchErrorAbortsRun(t *testing.T) {
	st := &fakeStore{fetchErr: errors.New("relation missing")}
	crm := newFakeCRM()
	eng, _ := newTestEngine(st, crm, Config{PageSize: 10})

	err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch page")
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	rec := model.CandidateRecord{FactID: "A", FirstName: "Ana", Email: "ana@example.com"}
	st := &fakeStore{records: []model.CandidateRecord{rec}}
	crm := newFakeCRM()
	eng, _ := newTestEngine(st, crm, Config{PageSize: 10})
	require.NoError(t, eng.Run(context.Background()))
	require.Len(t, crm.creates, 1)

	// The write-back landed; the second run sees the id and updates.
	wb := st.writeBacks[0]
	rec.ContactID = wb.contactID
	rec.OpportunityID = wb.opportunityID
	st2 := &fakeStore{
		records: []model.CandidateRecord{rec},
		known:   map[string]bool{wb.contactID: true},
	}
	eng2, led2 := newTestEngine(st2, crm, Config{PageSize: 10})
	require.NoError(t, eng2.Run(context.Background()))

	assert.Len(t, crm.creates, 1, "no second create")
	assert.Equal(t, []string{wb.contactID}, crm.updates)
	_, ok, _, _ := led2.Totals()
	assert.EqualValues(t, 1, ok)
}
