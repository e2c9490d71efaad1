// Package persist writes extracted businesses as leads and consumes search
// terms. Duplicate titles are a successful no-op, not a failure.
package persist

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/maps-scraper/internal/db"
	"github.com/sells-group/maps-scraper/internal/model"
)

// Outcome is the result of one insert.
type Outcome string

const (
	Inserted  Outcome = "inserted"
	Duplicate Outcome = "duplicate"
	Failed    Outcome = "failed"
)

// Stored reports whether the record is now present in the store.
func (o Outcome) Stored() bool {
	return o == Inserted || o == Duplicate
}

// Writer is the slice of store.Store the gateway needs.
type Writer interface {
	NextRowNumber(ctx context.Context) (int64, error)
	InsertLead(ctx context.Context, lead *model.Lead) error
	MarkTermUsed(ctx context.Context, term string) error
}

// Gateway assigns row numbers and classifies insert errors.
type Gateway struct {
	w      Writer
	next   int64
	primed bool
	now    func() time.Time
	log    *zap.Logger
}

// New returns a Gateway over w.
func New(w Writer) *Gateway {
	return &Gateway{
		w:   w,
		now: func() time.Time { return time.Now().UTC() },
		log: zap.L().With(zap.String("component", "persist")),
	}
}

// prime fetches the starting row number once per run.
func (g *Gateway) prime(ctx context.Context) error {
	if g.primed {
		return nil
	}
	next, err := g.w.NextRowNumber(ctx)
	if err != nil {
		return eris.Wrap(err, "persist: next row number")
	}
	g.next = next
	g.primed = true
	return nil
}

// Insert stores b as a lead found by term. Every attempt consumes a row
// number. Only Failed carries an error.
func (g *Gateway) Insert(ctx context.Context, term string, b model.Business) (Outcome, error) {
	if !b.Valid() {
		return Failed, eris.New("persist: business has no title")
	}
	if err := g.prime(ctx); err != nil {
		return Failed, err
	}

	lead := &model.Lead{
		RowNumber:  g.next,
		SearchTerm: term,
		CreatedAt:  g.now(),
		Business:   b,
	}
	g.next++

	err := g.w.InsertLead(ctx, lead)
	switch {
	case err == nil:
		return Inserted, nil
	case db.IsUniqueViolation(err):
		g.log.Debug("persist: duplicate title", zap.String("title", b.Title))
		return Duplicate, nil
	default:
		g.log.Warn("persist: insert failed", zap.String("title", b.Title), zap.Error(err))
		return Failed, eris.Wrap(err, "persist: insert lead")
	}
}

// MarkConsumed flips the term's used flag. It is not retried.
func (g *Gateway) MarkConsumed(ctx context.Context, term string) error {
	if err := g.w.MarkTermUsed(ctx, term); err != nil {
		g.log.Warn("persist: mark used failed", zap.String("search", term), zap.Error(err))
		return eris.Wrapf(err, "persist: mark used %q", term)
	}
	return nil
}
