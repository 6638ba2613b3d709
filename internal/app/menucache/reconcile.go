package menucache

import (
	"context"
	"strings"

	"github.com/coachpo/carte/errs"
	"github.com/coachpo/carte/internal/domain/menu"
	"github.com/coachpo/carte/internal/infra/telemetry"
	"github.com/coachpo/carte/internal/observability"
)

// Outcome classifies a rating submission attempt.
type Outcome int

const (
	// NoSelection means no stars were selected; nothing was checked or sent.
	NoSelection Outcome = iota
	// AlreadyRatedToday means the guard marker for today exists; nothing was sent.
	AlreadyRatedToday
	// SubmissionFailed means the rating was not recorded.
	SubmissionFailed
	// Submitted means the rating was recorded and the cached aggregate patched.
	Submitted
)

func (o Outcome) String() string {
	switch o {
	case NoSelection:
		return "no_selection"
	case AlreadyRatedToday:
		return "already_rated_today"
	case SubmissionFailed:
		return "submission_failed"
	case Submitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// SubmitResult describes a rating submission.
type SubmitResult struct {
	Outcome Outcome `json:"outcome"`
	// Aggregate is the reconciled aggregate; set only when Outcome is Submitted.
	Aggregate menu.RatingAggregate `json:"aggregate"`
	// Reconcile is "authoritative" or "local" for submitted ratings.
	Reconcile string `json:"reconcile,omitempty"`
}

// SubmitRating records one rating for the item, at most once per local
// calendar day. Concurrent submissions for the same item and day run one at a
// time, so later callers observe the first one's marker. stars == 0 is a no-op. On success the cached aggregate is
// replaced by a server refetch, or by a local recomputation when the refetch
// fails.
func (c *Cache) SubmitRating(ctx context.Context, itemID menu.ItemID, stars int) (SubmitResult, error) {
	itemID = menu.ItemID(strings.TrimSpace(string(itemID)))
	if stars == 0 {
		c.metrics.recordSubmission(NoSelection, "")
		return SubmitResult{Outcome: NoSelection}, nil
	}
	if itemID == "" || !menu.ValidStars(stars) {
		c.metrics.recordSubmission(SubmissionFailed, "")
		return SubmitResult{Outcome: SubmissionFailed}, errs.New("menucache/submit", errs.CodeInvalid,
			errs.WithCanonicalCode(errs.CanonicalSubmissionFailed),
			errs.WithMessage("rating must be between 1 and 5 stars"),
			errs.WithField("item", string(itemID)))
	}

	key := menu.GuardKey(itemID, c.clock())
	release, err := c.submissions.acquire(ctx, key)
	if err != nil {
		c.metrics.recordSubmission(SubmissionFailed, "")
		return SubmitResult{Outcome: SubmissionFailed}, errs.New("menucache/submit", errs.CodeUnavailable,
			errs.WithCanonicalCode(errs.CanonicalSubmissionFailed),
			errs.WithField("item", string(itemID)),
			errs.WithCause(err))
	}
	defer release()

	rated, err := c.guard.Has(ctx, key)
	if err != nil {
		c.metrics.recordSubmission(SubmissionFailed, "")
		return SubmitResult{Outcome: SubmissionFailed}, errs.New("menucache/submit", errs.CodeStorage,
			errs.WithCanonicalCode(errs.CanonicalSubmissionFailed),
			errs.WithField("item", string(itemID)),
			errs.WithCause(err))
	}
	if rated {
		c.metrics.recordSubmission(AlreadyRatedToday, "")
		return SubmitResult{Outcome: AlreadyRatedToday}, nil
	}

	prior := c.aggregateOf(itemID)

	if err := c.gateway.SubmitRating(ctx, itemID, stars); err != nil {
		c.metrics.recordSubmission(SubmissionFailed, "")
		c.logger.Warn("rating submission failed",
			observability.F("item", string(itemID)),
			observability.F("error", err))
		return SubmitResult{Outcome: SubmissionFailed}, errs.New("menucache/submit", errs.CodeRemote,
			errs.WithCanonicalCode(errs.CanonicalSubmissionFailed),
			errs.WithField("item", string(itemID)),
			errs.WithCause(err))
	}

	// The rating is recorded server-side from here on; finish even if the
	// caller goes away.
	detached := context.WithoutCancel(ctx)
	if err := c.guard.Mark(detached, key); err != nil {
		c.logger.Error("guard marker write failed",
			observability.F("item", string(itemID)),
			observability.F("key", key),
			observability.F("error", err))
	}

	agg, reconcile := c.reconcile(ctx, itemID, stars, prior)
	if c.patchAggregate(itemID, agg) == 0 {
		c.logger.Debug("reconciled item no longer cached",
			observability.F("item", string(itemID)))
	}
	c.metrics.recordSubmission(Submitted, reconcile)
	return SubmitResult{Outcome: Submitted, Aggregate: agg, Reconcile: reconcile}, nil
}

func (c *Cache) reconcile(ctx context.Context, itemID menu.ItemID, stars int, prior menu.RatingAggregate) (menu.RatingAggregate, string) {
	agg, err := c.gateway.RatingAverage(ctx, itemID)
	if err == nil {
		return agg.Normalize(), telemetry.ReconcileAuthoritative
	}
	c.logger.Info("aggregate refetch failed, recomputing locally",
		observability.F("item", string(itemID)),
		observability.F("error", errs.New("menucache/reconcile", errs.CodeRemote,
			errs.WithCanonicalCode(errs.CanonicalReconciliationFetchFailed),
			errs.WithCause(err))))
	return prior.With(stars), telemetry.ReconcileLocal
}
