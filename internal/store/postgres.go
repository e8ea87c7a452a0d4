package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vertex-labs/crmsync/internal/db"
	"github.com/vertex-labs/crmsync/internal/model"
)

// PostgresStore implements Store against the star-schema warehouse. All
// mutations go through the warehouse's SQL functions so the dimension
// bookkeeping stays inside the database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const candidatePageQuery = `
SELECT fact_id, first_name, last_name, email, phone_number,
       address_line1, city, state_region, postal_code, country, time_zone,
       website_landing_page, source, lead_source, lead_owner, publisher,
       rating, is_author, genre, writing_status, book_description,
       outreach_attempt, opt_out_of_email, notes, einstein_url,
       pipeline_id, stage_id, ghl_contact_id, ghl_opportunity_id
FROM get_unassigned_contact_details_page($1, $2)`

func (s *PostgresStore) FetchPage(ctx context.Context, offset, limit int) ([]model.CandidateRecord, error) {
	rows, err := s.pool.Query(ctx, candidatePageQuery, offset, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch page offset=%d", offset)
	}
	defer rows.Close()

	var records []model.CandidateRecord
	for rows.Next() {
		r, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: fetch page iterate")
}

func scanCandidate(rows pgx.Rows) (model.CandidateRecord, error) {
	var r model.CandidateRecord
	var firstName, lastName, email, phone *string
	var addr1, city, state, postal, country, tz *string
	var website, source, leadSource, leadOwner, pub *string
	var rating, genre, writingStatus, bookDesc *string
	var notes, proposalURL, pipelineID, stageID *string
	var contactID, opportunityID *string
	var outreach *int
	var isAuthor, optOut *bool
	err := rows.Scan(&r.FactID, &firstName, &lastName, &email, &phone,
		&addr1, &city, &state, &postal, &country, &tz,
		&website, &source, &leadSource, &leadOwner, &pub,
		&rating, &isAuthor, &genre, &writingStatus, &bookDesc,
		&outreach, &optOut, &notes, &proposalURL,
		&pipelineID, &stageID, &contactID, &opportunityID)
	if err != nil {
		return r, err
	}
	r.FirstName = deref(firstName)
	r.LastName = deref(lastName)
	r.Email = deref(email)
	r.Phone = deref(phone)
	r.AddressLine1 = deref(addr1)
	r.City = deref(city)
	r.StateRegion = deref(state)
	r.PostalCode = deref(postal)
	r.Country = deref(country)
	r.TimeZone = deref(tz)
	r.Website = deref(website)
	r.Source = deref(source)
	r.LeadSource = deref(leadSource)
	r.LeadOwner = deref(leadOwner)
	r.Publisher = deref(pub)
	r.Rating = deref(rating)
	r.Genre = deref(genre)
	r.WritingStatus = deref(writingStatus)
	r.BookDesc = deref(bookDesc)
	r.Notes = deref(notes)
	r.ProposalURL = deref(proposalURL)
	r.PipelineID = deref(pipelineID)
	r.StageID = deref(stageID)
	r.ContactID = deref(contactID)
	r.OpportunityID = deref(opportunityID)
	if outreach != nil {
		r.Outreach = *outreach
	}
	if isAuthor != nil {
		r.IsAuthor = *isAuthor
	}
	if optOut != nil {
		r.OptOutEmail = *optOut
	}
	return r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *PostgresStore) KnownContactIDs(ctx context.Context, contactIDs []string) (map[string]bool, error) {
	known := make(map[string]bool, len(contactIDs))
	if len(contactIDs) == 0 {
		return known, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ghl_contact_id FROM fact_contacts WHERE ghl_contact_id = ANY($1)`,
		contactIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: known contact ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact id")
		}
		known[id] = true
	}
	return known, eris.Wrap(rows.Err(), "postgres: known contact ids iterate")
}

func (s *PostgresStore) AssignOwner(ctx context.Context, rating, stage, publisher string) (string, error) {
	var owner *string
	err := s.pool.QueryRow(ctx,
		`SELECT assigned_user_id FROM get_pipeline_stage_and_do_round_robin($1, $2, $3)`,
		rating, stage, publisher,
	).Scan(&owner)
	if err != nil {
		return "", eris.Wrap(err, "postgres: assign owner")
	}
	return deref(owner), nil
}

func (s *PostgresStore) WriteBack(ctx context.Context, factID, contactID, opportunityID, ownerID string) error {
	_, err := s.pool.Exec(ctx,
		`SELECT update_last_assigned_at($1, $2, $3, $4)`,
		ownerID, factID, contactID, opportunityID,
	)
	return eris.Wrapf(err, "postgres: write back %s", factID)
}

func (s *PostgresStore) MarkDuplicate(ctx context.Context, factID string) error {
	_, err := s.pool.Exec(ctx,
		`SELECT mark_fact_contact_duplicate($1)`,
		factID,
	)
	return eris.Wrapf(err, "postgres: mark duplicate %s", factID)
}

func (s *PostgresStore) UpsertFromRemote(ctx context.Context, up model.RemoteUpsert, exists bool) (UpsertResult, error) {
	if exists {
		var factID string
		err := s.pool.QueryRow(ctx,
			`SELECT out_fact_id FROM update_contact_in_star_schema_using_contact_id(
			   $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			up.ContactID, up.FirstName, up.LastName, up.Email, up.Phone,
			up.FullAddress, up.Address1, up.City, up.StateRegion, up.PostalCode,
			up.Country, up.TimeZone, up.Source, up.LandingPage, up.LeadSource,
			up.LeadOwner, up.IsAuthor, up.OptOutEmail,
		).Scan(&factID)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: update from remote %s", up.ContactID)
		}
		return UpsertResult{FactID: factID}, nil
	}

	var factID string
	var proposalURL *string
	err := s.pool.QueryRow(ctx,
		`SELECT fact_id, einstein_url FROM insert_contact_to_star_schema(
		   $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		up.FirstName, up.LastName, up.Email, up.Phone,
		up.FullAddress, up.Address1, up.City, up.StateRegion, up.PostalCode,
		up.Country, up.TimeZone, up.Source, up.LandingPage, up.LeadSource,
		up.LeadOwner, up.Publisher, up.IsAuthor, up.OptOutEmail,
		up.CreatedAt, up.ContactID,
	).Scan(&factID, &proposalURL)
	if err != nil {
		return UpsertResult{}, eris.Wrapf(err, "postgres: insert from remote %s", up.ContactID)
	}
	return UpsertResult{FactID: factID, ProposalURL: deref(proposalURL), Inserted: true}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	// The warehouse schema and its SQL functions are owned by the database
	// team; the store only verifies they are reachable.
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
	return eris.Wrap(err, "postgres: migrate check")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
