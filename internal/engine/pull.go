package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertex-labs/crmsync/internal/ledger"
	"github.com/vertex-labs/crmsync/internal/model"
	"github.com/vertex-labs/crmsync/internal/resilience"
	"github.com/vertex-labs/crmsync/internal/store"
	"github.com/vertex-labs/crmsync/pkg/ghl"
)

// PullConfig holds the knobs for one pull run.
type PullConfig struct {
	Concurrency int
	// PageLimit is the search page size.
	PageLimit int
	// Limit bounds the total contacts pulled; 0 means run to exhaustion.
	Limit int
	// StartPage and SearchAfter resume a previous run. SearchAfter is the
	// opaque cursor from the previous run's summary.
	StartPage   int
	SearchAfter []any

	LocationID string
	NoteUserID string

	Retry resilience.RetryConfig
}

func (c PullConfig) withDefaults() PullConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 12
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 100
	}
	if c.StartPage <= 0 {
		c.StartPage = 1
	}
	return c
}

// Puller drives the pull pipeline: CRM contact search pages upserted into
// the warehouse, with a proposal note written back for fresh inserts.
type Puller struct {
	store  store.Store
	crm    ghl.Client
	ledger *ledger.Ledger
	cfg    PullConfig
	log    *zap.Logger
}

// NewPuller builds a Puller.
func NewPuller(st store.Store, crm ghl.Client, led *ledger.Ledger, cfg PullConfig) *Puller {
	return &Puller{
		store:  st,
		crm:    crm,
		ledger: led,
		cfg:    cfg.withDefaults(),
		log:    zap.L().Named("pull"),
	}
}

// Run walks the contact search cursor until the remote reports an empty
// page, the limit is reached, or the context is cancelled.
func (p *Puller) Run(ctx context.Context) error {
	page := p.cfg.StartPage
	cursor := p.cfg.SearchAfter
	pulled := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		size := p.cfg.PageLimit
		if p.cfg.Limit > 0 {
			if remaining := p.cfg.Limit - pulled; remaining < size {
				size = remaining
			}
		}
		if size <= 0 {
			break
		}

		sp, err := p.crm.SearchContacts(ctx, ghl.SearchRequest{
			LocationID:  p.cfg.LocationID,
			Page:        page,
			PageLimit:   size,
			SearchAfter: cursor,
		})
		if err != nil {
			return eris.Wrapf(err, "pull: search page %d", page)
		}
		if len(sp.Contacts) == 0 {
			break
		}

		known, err := p.pageContacts(ctx, sp.Contacts)
		if err != nil {
			return eris.Wrapf(err, "pull: existence check on page %d", page)
		}

		p.log.Info("search page fetched",
			zap.Int("page", page),
			zap.Int("contacts", len(sp.Contacts)),
			zap.Int("total_reported", sp.Total),
			zap.Int("already_known", len(known)))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Concurrency)
		for _, contact := range sp.Contacts {
			contact := contact
			g.Go(func() error {
				p.processContact(gctx, contact, known[contact.ID])
				return nil
			})
		}
		_ = g.Wait()

		cursor = sp.NextCursor()
		p.ledger.SetCursor(cursorString(cursor))
		pulled += len(sp.Contacts)
		page++

		if len(sp.Contacts) < size {
			break
		}
		if p.cfg.Limit > 0 && pulled >= p.cfg.Limit {
			break
		}
	}

	return ctx.Err()
}

func (p *Puller) pageContacts(ctx context.Context, contacts []model.RemoteContact) (map[string]bool, error) {
	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	return resilience.DoVal(ctx, p.retryCfg("known_contact_ids"), func(ctx context.Context) (map[string]bool, error) {
		return p.store.KnownContactIDs(ctx, ids)
	})
}

// processContact upserts one remote contact into the warehouse and, when
// the warehouse minted a fresh row, writes the generated proposal link
// back to the contact as a note.
func (p *Puller) processContact(ctx context.Context, contact model.RemoteContact, exists bool) {
	up := mapRemote(contact)

	res, err := resilience.DoVal(ctx, p.retryCfg("upsert_from_remote"), func(ctx context.Context) (store.UpsertResult, error) {
		return p.store.UpsertFromRemote(ctx, up, exists)
	})
	if err != nil {
		p.ledger.RecordOutcome(ledger.Outcome{
			FactID:    res.FactID,
			Name:      strings.TrimSpace(contact.FirstName + " " + contact.LastName),
			Email:     contact.Email,
			ContactID: contact.ID,
			Kind:      model.OutcomeFailed,
			ErrKind:   model.ErrKindDatastore,
			Err:       eris.Wrap(err, "pull: upsert contact"),
		})
		return
	}

	if res.Inserted && res.ProposalURL != "" {
		if err := p.crm.CreateNote(ctx, contact.ID, p.cfg.NoteUserID, model.BuildProposalNote(res.ProposalURL)); err != nil {
			kind, status := classifyRemote(err)
			p.ledger.RecordOutcome(ledger.Outcome{
				FactID:    res.FactID,
				Name:      strings.TrimSpace(contact.FirstName + " " + contact.LastName),
				Email:     contact.Email,
				ContactID: contact.ID,
				Kind:      model.OutcomeFailed,
				ErrKind:   kind,
				Status:    status,
				Err:       eris.Wrap(err, "pull: proposal note"),
			})
			return
		}
	}

	if res.Inserted {
		p.ledger.NoteInserted(res.FactID)
	} else {
		p.ledger.NoteUpdated(res.FactID)
	}
	p.ledger.RecordOutcome(ledger.Outcome{
		FactID:    res.FactID,
		Name:      strings.TrimSpace(contact.FirstName + " " + contact.LastName),
		Email:     contact.Email,
		ContactID: contact.ID,
		Kind:      model.OutcomeOK,
	})
}

// mapRemote projects a remote contact onto warehouse columns, applying
// the same normalization as the push direction.
func mapRemote(c model.RemoteContact) model.RemoteUpsert {
	createdAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, c.DateAdded); err == nil {
		createdAt = t.UTC()
	}
	return model.RemoteUpsert{
		ContactID:   c.ID,
		FirstName:   model.OrUnprovided(c.FirstName),
		LastName:    model.OrUnprovided(c.LastName),
		Email:       model.NormalizeEmail(c.Email),
		Phone:       model.NormalizePhone(c.Phone),
		FullAddress: c.FullAddress(),
		Address1:    c.Address1,
		City:        c.City,
		StateRegion: c.State,
		PostalCode:  c.PostalCode,
		Country:     model.NormalizeCountry(c.Country),
		TimeZone:    c.CustomFieldValue(cfContactTimezone),
		Source:      model.OrUnprovided(c.Source),
		LandingPage: c.CustomFieldValue(cfContactSourceValue),
		LeadSource:  c.CustomFieldValue(cfContactSourceDetail),
		LeadOwner:   c.AssignedTo,
		Publisher:   c.CustomFieldValue(cfContactPublisher),
		IsAuthor:    strings.EqualFold(c.Type, "author"),
		OptOutEmail: c.DND,
		CreatedAt:   createdAt,
	}
}

func cursorString(cursor []any) string {
	if len(cursor) == 0 {
		return ""
	}
	b, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return string(b)
}

func (p *Puller) retryCfg(operation string) resilience.RetryConfig {
	cfg := p.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("warehouse", operation)
	return cfg
}
