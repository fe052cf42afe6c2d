package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"merq/internal/logger"
)

// ExitFunc issues a single exit order at the engine. Exiting an already
// closed position is a soft error on the engine side, never a client
// concern.
type ExitFunc func(ctx context.Context, id string) error

// ExitOutcome is the result of one exit attempt.
type ExitOutcome struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// SquareOffReport aggregates the outcome of a liquidation pass. It always
// contains exactly one outcome per targeted id.
type SquareOffReport struct {
	Outcomes []ExitOutcome
}

// Failed returns the ids whose exit request did not go through.
func (r SquareOffReport) Failed() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.ID)
		}
	}
	return out
}

// Succeeded returns the number of accepted exit requests.
func (r SquareOffReport) Succeeded() int {
	return len(r.Outcomes) - len(r.Failed())
}

// SquareOff fans exit requests out over a frozen id list. Requests are
// independent: one failure never blocks or cancels the rest, and the
// report covers every id regardless of how many failed.
type SquareOff struct {
	exit        ExitFunc
	maxInFlight int
	retryPasses int
}

// NewSquareOff builds an orchestrator. maxInFlight bounds concurrent exit
// requests (0 means 4); retryPasses adds bounded re-attempts over the ids
// that failed, since a failed exit otherwise has no automatic follow-up.
func NewSquareOff(exit ExitFunc, maxInFlight, retryPasses int) *SquareOff {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	if retryPasses < 0 {
		retryPasses = 0
	}
	return &SquareOff{exit: exit, maxInFlight: maxInFlight, retryPasses: retryPasses}
}

// Run liquidates every id in the list and reports all outcomes. The input
// is a snapshot taken at call time; positions that close mid-flight are
// still targeted, which is safe because the engine treats exit-on-closed
// as a no-op.
func (s *SquareOff) Run(ctx context.Context, ids []string) SquareOffReport {
	outcomes := s.pass(ctx, ids)

	for attempt := 0; attempt < s.retryPasses; attempt++ {
		failed := collectFailedIDs(outcomes)
		if len(failed) == 0 {
			break
		}
		logger.Warnf("square-off: retrying %d failed exits (pass %d/%d)", len(failed), attempt+1, s.retryPasses)
		retried := s.pass(ctx, failed)
		merg := make(map[string]error, len(retried))
		for _, o := range retried {
			merg[o.ID] = o.Err
		}
		for i := range outcomes {
			if err, ok := merg[outcomes[i].ID]; ok {
				outcomes[i].Err = err
			}
		}
	}

	return SquareOffReport{Outcomes: outcomes}
}

// pass issues one exit per id concurrently and collects every result
// without short-circuiting.
func (s *SquareOff) pass(ctx context.Context, ids []string) []ExitOutcome {
	outcomes := make([]ExitOutcome, len(ids))
	group := &errgroup.Group{}
	group.SetLimit(s.maxInFlight)
	for i, id := range ids {
		i, id := i, id
		group.Go(func() error {
			err := s.exit(ctx, id)
			if err != nil {
				logger.Warnf("square-off: exit failed id=%s err=%v", id, err)
			}
			outcomes[i] = ExitOutcome{ID: id, Err: err}
			return nil
		})
	}
	// Workers always return nil; Wait only serves as a barrier here.
	_ = group.Wait()
	return outcomes
}

func collectFailedIDs(outcomes []ExitOutcome) []string {
	var out []string
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o.ID)
		}
	}
	return out
}
