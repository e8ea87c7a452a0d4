package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/vertex-labs/crmsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// local runs and tests; the warehouse SQL functions are replaced with
// plain SQL against a flattened fact_contacts table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS fact_contacts (
	fact_id              TEXT PRIMARY KEY,
	first_name           TEXT,
	last_name            TEXT,
	email                TEXT,
	phone_number         TEXT,
	full_address         TEXT,
	address_line1        TEXT,
	city                 TEXT,
	state_region         TEXT,
	postal_code          TEXT,
	country              TEXT,
	time_zone            TEXT,
	website_landing_page TEXT,
	source               TEXT,
	lead_source          TEXT,
	lead_owner           TEXT,
	publisher            TEXT,
	rating               TEXT,
	is_author            INTEGER NOT NULL DEFAULT 0,
	genre                TEXT,
	writing_status       TEXT,
	book_description     TEXT,
	outreach_attempt     INTEGER NOT NULL DEFAULT 0,
	opt_out_of_email     INTEGER NOT NULL DEFAULT 0,
	notes                TEXT,
	einstein_url         TEXT,
	pipeline_id          TEXT,
	stage_id             TEXT,
	ghl_contact_id       TEXT,
	ghl_opportunity_id   TEXT,
	assigned_user_id     TEXT,
	last_assigned_at     DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_fact_contacts_ghl_contact_id ON fact_contacts(ghl_contact_id);
CREATE INDEX IF NOT EXISTS idx_fact_contacts_last_assigned ON fact_contacts(last_assigned_at);

CREATE TABLE IF NOT EXISTS owners (
	user_id          TEXT PRIMARY KEY,
	publisher        TEXT,
	last_assigned_at DATETIME
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

const sqliteCandidateColumns = `
	fact_id, first_name, last_name, email, phone_number,
	address_line1, city, state_region, postal_code, country, time_zone,
	website_landing_page, source, lead_source, lead_owner, publisher,
	rating, is_author, genre, writing_status, book_description,
	outreach_attempt, opt_out_of_email, notes, einstein_url,
	pipeline_id, stage_id, ghl_contact_id, ghl_opportunity_id`

func (s *SQLiteStore) FetchPage(ctx context.Context, offset, limit int) ([]model.CandidateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCandidateColumns+`
		 FROM fact_contacts
		 WHERE last_assigned_at IS NULL
		 ORDER BY fact_id
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch page offset=%d", offset)
	}
	defer rows.Close() //nolint:errcheck

	var records []model.CandidateRecord
	for rows.Next() {
		var r model.CandidateRecord
		var firstName, lastName, email, phone sql.NullString
		var addr1, city, state, postal, country, tz sql.NullString
		var website, source, leadSource, leadOwner, pub sql.NullString
		var rating, genre, writingStatus, bookDesc sql.NullString
		var notes, proposalURL, pipelineID, stageID sql.NullString
		var contactID, opportunityID sql.NullString
		var outreach sql.NullInt64
		var isAuthor, optOut bool

		err := rows.Scan(&r.FactID, &firstName, &lastName, &email, &phone,
			&addr1, &city, &state, &postal, &country, &tz,
			&website, &source, &leadSource, &leadOwner, &pub,
			&rating, &isAuthor, &genre, &writingStatus, &bookDesc,
			&outreach, &optOut, &notes, &proposalURL,
			&pipelineID, &stageID, &contactID, &opportunityID)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		r.FirstName = firstName.String
		r.LastName = lastName.String
		r.Email = email.String
		r.Phone = phone.String
		r.AddressLine1 = addr1.String
		r.City = city.String
		r.StateRegion = state.String
		r.PostalCode = postal.String
		r.Country = country.String
		r.TimeZone = tz.String
		r.Website = website.String
		r.Source = source.String
		r.LeadSource = leadSource.String
		r.LeadOwner = leadOwner.String
		r.Publisher = pub.String
		r.Rating = rating.String
		r.Genre = genre.String
		r.WritingStatus = writingStatus.String
		r.BookDesc = bookDesc.String
		r.Notes = notes.String
		r.ProposalURL = proposalURL.String
		r.PipelineID = pipelineID.String
		r.StageID = stageID.String
		r.ContactID = contactID.String
		r.OpportunityID = opportunityID.String
		r.Outreach = int(outreach.Int64)
		r.IsAuthor = isAuthor
		r.OptOutEmail = optOut
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: fetch page iterate")
}

func (s *SQLiteStore) KnownContactIDs(ctx context.Context, contactIDs []string) (map[string]bool, error) {
	known := make(map[string]bool, len(contactIDs))
	if len(contactIDs) == 0 {
		return known, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(contactIDs)), ",")
	args := make([]any, len(contactIDs))
	for i, id := range contactIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ghl_contact_id FROM fact_contacts WHERE ghl_contact_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: known contact ids")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact id")
		}
		known[id] = true
	}
	return known, eris.Wrap(rows.Err(), "sqlite: known contact ids iterate")
}

// AssignOwner picks the least-recently-assigned owner for the publisher,
// approximating the warehouse round-robin function.
func (s *SQLiteStore) AssignOwner(ctx context.Context, rating, stage, publisher string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM owners
		 WHERE publisher = ? OR publisher IS NULL
		 ORDER BY last_assigned_at ASC NULLS FIRST
		 LIMIT 1`,
		publisher,
	).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", eris.Wrap(err, "sqlite: assign owner")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE owners SET last_assigned_at = datetime('now') WHERE user_id = ?`,
		userID,
	)
	return userID, eris.Wrap(err, "sqlite: touch owner")
}

func (s *SQLiteStore) WriteBack(ctx context.Context, factID, contactID, opportunityID, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fact_contacts
		 SET ghl_contact_id = ?, ghl_opportunity_id = ?, assigned_user_id = ?,
		     last_assigned_at = datetime('now'), updated_at = datetime('now')
		 WHERE fact_id = ?`,
		contactID, opportunityID, ownerID, factID,
	)
	return eris.Wrapf(err, "sqlite: write back %s", factID)
}

func (s *SQLiteStore) MarkDuplicate(ctx context.Context, factID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE fact_contacts
		 SET ghl_contact_id = ?, ghl_opportunity_id = ?, updated_at = datetime('now')
		 WHERE fact_id = ?`,
		model.DuplicateSentinel, model.DuplicateSentinel, factID,
	)
	return eris.Wrapf(err, "sqlite: mark duplicate %s", factID)
}

func (s *SQLiteStore) UpsertFromRemote(ctx context.Context, up model.RemoteUpsert, exists bool) (UpsertResult, error) {
	if exists {
		var factID string
		err := s.db.QueryRowContext(ctx,
			`SELECT fact_id FROM fact_contacts WHERE ghl_contact_id = ?`,
			up.ContactID,
		).Scan(&factID)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "sqlite: lookup %s", up.ContactID)
		}

		_, err = s.db.ExecContext(ctx,
			`UPDATE fact_contacts
			 SET first_name = ?, last_name = ?, email = ?, phone_number = ?,
			     full_address = ?, address_line1 = ?, city = ?, state_region = ?,
			     postal_code = ?, country = ?, time_zone = ?, source = ?,
			     website_landing_page = ?, lead_source = ?, lead_owner = ?,
			     is_author = ?, opt_out_of_email = ?, updated_at = datetime('now')
			 WHERE fact_id = ?`,
			up.FirstName, up.LastName, up.Email, up.Phone,
			up.FullAddress, up.Address1, up.City, up.StateRegion,
			up.PostalCode, up.Country, up.TimeZone, up.Source,
			up.LandingPage, up.LeadSource, up.LeadOwner,
			up.IsAuthor, up.OptOutEmail, factID,
		)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "sqlite: update from remote %s", up.ContactID)
		}
		return UpsertResult{FactID: factID}, nil
	}

	factID := uuid.New().String()
	createdAt := up.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fact_contacts
		 (fact_id, first_name, last_name, email, phone_number, full_address,
		  address_line1, city, state_region, postal_code, country, time_zone,
		  source, website_landing_page, lead_source, lead_owner, publisher,
		  is_author, opt_out_of_email, ghl_contact_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		factID, up.FirstName, up.LastName, up.Email, up.Phone, up.FullAddress,
		up.Address1, up.City, up.StateRegion, up.PostalCode, up.Country, up.TimeZone,
		up.Source, up.LandingPage, up.LeadSource, up.LeadOwner, up.Publisher,
		up.IsAuthor, up.OptOutEmail, up.ContactID, createdAt,
	)
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "sqlite: insert from remote %s", up.ContactID)
	}
	return UpsertResult{FactID: factID, Inserted: true}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
