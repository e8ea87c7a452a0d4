// Package engine runs the reconciliation pipelines: the push direction
// (warehouse candidates out to the CRM) and the pull direction (CRM
// contacts back into the warehouse).
package engine

import (
	"context"
	"errors"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertex-labs/crmsync/internal/ledger"
	"github.com/vertex-labs/crmsync/internal/model"
	"github.com/vertex-labs/crmsync/internal/resilience"
	"github.com/vertex-labs/crmsync/internal/store"
	"github.com/vertex-labs/crmsync/pkg/ghl"
)

// Config holds the knobs for one push run.
type Config struct {
	// Concurrency caps the number of records in flight at once.
	Concurrency int
	// PageSize is the extraction page size.
	PageSize int
	// Limit bounds the total number of records pulled; 0 means run until
	// the source is exhausted.
	Limit int
	// StartOffset skips already-processed rows when resuming a run.
	StartOffset int

	// Rating and Stage select the owner round-robin bucket.
	Rating string
	Stage  string

	// LocationID is the CRM location all writes target.
	LocationID string
	// NoteUserID attributes created notes.
	NoteUserID string

	// Retry governs datastore retries; remote retries live in the client.
	Retry resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 12
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.Rating == "" {
		c.Rating = "1. Hot"
	}
	if c.Stage == "" {
		c.Stage = "Proposal Sent"
	}
	return c
}

// Engine drives the push pipeline.
type Engine struct {
	store  store.Store
	crm    ghl.Client
	ledger *ledger.Ledger
	cfg    Config
	log    *zap.Logger
}

// New builds an Engine. The ledger is owned by the caller, which flushes
// it exactly once on exit.
func New(st store.Store, crm ghl.Client, led *ledger.Ledger, cfg Config) *Engine {
	return &Engine{
		store:  st,
		crm:    crm,
		ledger: led,
		cfg:    cfg.withDefaults(),
		log:    zap.L().Named("engine"),
	}
}

// Run pulls candidate pages until the source is exhausted, the limit is
// reached, or the context is cancelled. Per-record failures are absorbed
// into the ledger; only extraction failures and cancellation abort the
// run.
func (e *Engine) Run(ctx context.Context) error {
	offset := e.cfg.StartOffset
	pulled := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := e.cfg.PageSize
		if e.cfg.Limit > 0 {
			if remaining := e.cfg.Limit - pulled; remaining < size {
				size = remaining
			}
		}
		if size <= 0 {
			break
		}

		page, err := resilience.DoVal(ctx, e.retryCfg("fetch_page"), func(ctx context.Context) ([]model.CandidateRecord, error) {
			return e.store.FetchPage(ctx, offset, size)
		})
		if err != nil {
			return eris.Wrapf(err, "engine: fetch page at offset %d", offset)
		}
		if len(page) == 0 {
			break
		}

		known, err := e.pageContacts(ctx, page)
		if err != nil {
			return eris.Wrapf(err, "engine: existence check at offset %d", offset)
		}

		e.log.Info("page fetched",
			zap.Int("offset", offset),
			zap.Int("records", len(page)),
			zap.Int("already_known", len(known)))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Concurrency)
		for _, rec := range page {
			rec := rec
			g.Go(func() error {
				e.processRecord(gctx, rec, known)
				return nil
			})
		}
		_ = g.Wait() // tasks absorb their own errors

		offset += len(page)
		pulled += len(page)
		e.ledger.SetCursor(strconv.Itoa(offset))

		if len(page) < size {
			break
		}
		if e.cfg.Limit > 0 && pulled >= e.cfg.Limit {
			break
		}
	}

	return ctx.Err()
}

// pageContacts runs the per-page batched existence check against the ids
// the page already carries.
func (e *Engine) pageContacts(ctx context.Context, page []model.CandidateRecord) (map[string]bool, error) {
	ids := make([]string, 0, len(page))
	for _, rec := range page {
		if rec.ContactID != "" && rec.ContactID != model.DuplicateSentinel {
			ids = append(ids, rec.ContactID)
		}
	}
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	return resilience.DoVal(ctx, e.retryCfg("known_contact_ids"), func(ctx context.Context) (map[string]bool, error) {
		return e.store.KnownContactIDs(ctx, ids)
	})
}

// decide routes a record to the insert, update or skip path.
func decide(rec model.CandidateRecord, known map[string]bool) (model.Decision, error) {
	if rec.KnownDuplicate() {
		return model.NewSkipDuplicate(), nil
	}
	if rec.ContactID != "" && rec.ContactID != model.DuplicateSentinel && known[rec.ContactID] {
		return model.NewUpdate(rec.ContactID)
	}
	return model.NewInsert(), nil
}

// processRecord walks one record through its terminal state. Every exit
// records exactly one Outcome.
func (e *Engine) processRecord(ctx context.Context, rec model.CandidateRecord, known map[string]bool) {
	decision, err := decide(rec, known)
	if err != nil {
		e.fail(rec, "", model.ErrKindAPI, err)
		return
	}

	if decision.Kind == model.DecisionSkipDuplicate {
		e.ledger.RecordOutcome(ledger.Outcome{
			FactID:    rec.FactID,
			Name:      rec.Name(),
			Email:     rec.Email,
			ContactID: model.DuplicateSentinel,
			Kind:      model.OutcomeDuplicate,
			ErrKind:   model.ErrKindDuplicate,
			Err:       errors.New("row carries the duplicate sentinel"),
		})
		return
	}

	owner := rec.LeadOwner
	if owner == "" {
		owner, err = resilience.DoVal(ctx, e.retryCfg("assign_owner"), func(ctx context.Context) (string, error) {
			return e.store.AssignOwner(ctx, e.cfg.Rating, e.cfg.Stage, rec.Publisher)
		})
		if err != nil {
			e.fail(rec, "", model.ErrKindDatastore, eris.Wrap(err, "engine: assign owner"))
			return
		}
	}

	payload, email := buildContactPayload(rec, owner, e.cfg.LocationID)
	if email == "" && !model.IsUnprovided(rec.Email) && rec.Email != "" {
		e.ledger.RecordDataQuality(rec.FactID, rec.Name(), rec.Email, model.ErrKindInvalidEmail,
			"email failed normalization, pushing without it")
	}

	contactID := decision.ContactID
	if decision.Kind == model.DecisionInsert {
		id, wasDuplicate, err := e.crm.CreateContact(ctx, payload)
		if err != nil {
			if dup, ok := resilience.AsDuplicate(err); ok {
				e.skipRemoteDuplicate(ctx, rec, dup)
				return
			}
			e.failRemote(rec, "", "create contact", err)
			return
		}
		contactID = id
		if wasDuplicate {
			// Remote already holds this contact; flag the row so the
			// next run routes it to the skip path, then finish the id
			// write-back as a success.
			e.markDuplicate(ctx, rec.FactID)
		}
	} else {
		if err := e.crm.UpdateContact(ctx, contactID, payload); err != nil {
			if dup, ok := resilience.AsDuplicate(err); ok {
				e.skipRemoteDuplicate(ctx, rec, dup)
				return
			}
			e.failRemote(rec, contactID, "update contact", err)
			return
		}
	}

	if err := e.crm.CreateNote(ctx, contactID, e.cfg.NoteUserID, model.BuildProposalNote(rec.ProposalURL)); err != nil {
		e.failRemote(rec, contactID, "create proposal note", err)
		return
	}
	if body := model.BuildOptionalNote(rec.Notes); body != "" {
		if err := e.crm.CreateNote(ctx, contactID, e.cfg.NoteUserID, body); err != nil {
			e.failRemote(rec, contactID, "create note", err)
			return
		}
	}

	opportunityID := rec.OpportunityID
	if opportunityID == "" {
		opportunityID, err = e.crm.CreateOpportunity(ctx, buildOpportunityPayload(rec, contactID, owner, e.cfg.LocationID))
		if err != nil {
			e.failRemote(rec, contactID, "create opportunity", err)
			return
		}
	}

	err = resilience.Do(ctx, e.retryCfg("write_back"), func(ctx context.Context) error {
		return e.store.WriteBack(ctx, rec.FactID, contactID, opportunityID, owner)
	})
	if err != nil {
		e.fail(rec, contactID, model.ErrKindDatastore, eris.Wrap(err, "engine: write back"))
		return
	}

	if decision.Kind == model.DecisionInsert {
		e.ledger.NoteInserted(rec.FactID)
	} else {
		e.ledger.NoteUpdated(rec.FactID)
	}
	e.ledger.RecordOutcome(ledger.Outcome{
		FactID:    rec.FactID,
		Name:      rec.Name(),
		Email:     rec.Email,
		ContactID: contactID,
		Kind:      model.OutcomeOK,
	})
}

// skipRemoteDuplicate handles the CRM's duplicate rejection that carries
// no usable id: flag the row and record a duplicate outcome.
func (e *Engine) skipRemoteDuplicate(ctx context.Context, rec model.CandidateRecord, dup *resilience.DuplicateError) {
	e.markDuplicate(ctx, rec.FactID)
	e.ledger.RecordOutcome(ledger.Outcome{
		FactID:    rec.FactID,
		Name:      rec.Name(),
		Email:     rec.Email,
		ContactID: dup.ExistingID,
		Kind:      model.OutcomeDuplicate,
		ErrKind:   model.ErrKindDuplicate,
		Err:       dup,
	})
}

func (e *Engine) markDuplicate(ctx context.Context, factID string) {
	err := resilience.Do(ctx, e.retryCfg("mark_duplicate"), func(ctx context.Context) error {
		return e.store.MarkDuplicate(ctx, factID)
	})
	if err != nil {
		// Non-fatal: the record will take the duplicate path again next
		// run and land here once more.
		e.log.Warn("mark duplicate failed", zap.String("fact_id", factID), zap.Error(err))
	}
}

// failRemote records a failed outcome for a remote-call error, classifying
// it for the error export.
func (e *Engine) failRemote(rec model.CandidateRecord, contactID, op string, err error) {
	kind, status := classifyRemote(err)
	e.ledger.RecordOutcome(ledger.Outcome{
		FactID:    rec.FactID,
		Name:      rec.Name(),
		Email:     rec.Email,
		ContactID: contactID,
		Kind:      model.OutcomeFailed,
		ErrKind:   kind,
		Status:    status,
		Err:       eris.Wrapf(err, "engine: %s", op),
	})
}

func (e *Engine) fail(rec model.CandidateRecord, contactID string, kind model.ErrorKind, err error) {
	e.ledger.RecordOutcome(ledger.Outcome{
		FactID:    rec.FactID,
		Name:      rec.Name(),
		Email:     rec.Email,
		ContactID: contactID,
		Kind:      model.OutcomeFailed,
		ErrKind:   kind,
		Err:       err,
	})
}

func classifyRemote(err error) (model.ErrorKind, int) {
	var html *resilience.HTMLResponseError
	if errors.As(err, &html) {
		return model.ErrKindHTMLResponse, html.StatusCode
	}
	var transient *resilience.TransientError
	if errors.As(err, &transient) {
		return model.ErrKindAPI, transient.StatusCode
	}
	return model.ErrKindAPI, 0
}

func (e *Engine) retryCfg(operation string) resilience.RetryConfig {
	cfg := e.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("warehouse", operation)
	return cfg
}
