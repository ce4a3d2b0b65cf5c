package ranked

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

// rankPadding is the default spacing unit between adjacent ranks, leaving
// room for later insertions without renumbering neighbors.
const rankPadding = 1000000

// maxRebuilds bounds the rank-exhaustion recovery: one full renumbering per
// sync. Exhaustion immediately after a rebuild means duplicate rank input.
const maxRebuilds = 1

// ErrRankSpaceExhausted is returned when a full renumbering did not free
// enough rank space, which indicates inconsistent input.
var ErrRankSpaceExhausted = errors.New("ranked: rank space exhausted after rebuild")

// Compare supplies the caller-defined identity and change semantics of a
// list. Unique matches the same logical item across syncs; Diff reports
// whether a matched item changed meaningfully enough to re-rank.
type Compare struct {
	Unique func(a, b storage.RankedItem) bool
	Diff   func(a, b storage.RankedItem) bool
}

// Params describe one synchronization pass of a list.
type Params struct {
	Table          storage.RankedTable
	Scope          string
	LedgerSequence int64
	Items          []storage.RankedItem
	Compare        Compare
}

// Store is the persistence surface the synchronizer runs against.
type Store interface {
	storage.RankedTxRunner
	ReadRankedAsOf(ctx context.Context, table storage.RankedTable, scope string, sequence int64, limit, offset int) ([]storage.RankedItem, error)
}

// Synchronizer maintains order-stable, point-in-time-queryable rankings with
// minimal rewrite cost: unchanged items are never touched.
type Synchronizer struct {
	store  Store
	logger zerolog.Logger
}

// NewSynchronizer constructs a ranked-list synchronizer.
func NewSynchronizer(store Store, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store:  store,
		logger: logger.With().Str("component", "ranked").Logger(),
	}
}

// Sync reconciles the list with a fresh item set at the given ledger
// sequence. The whole pass, including a possible full rebuild, commits as one
// transaction so readers never observe a half-applied state.
func (s *Synchronizer) Sync(ctx context.Context, p Params) error {
	if p.Compare.Unique == nil || p.Compare.Diff == nil {
		return errors.New("ranked: compare predicates are required")
	}

	return s.store.InRankedTx(ctx, func(tx storage.RankedStore) error {
		previous, err := tx.ReadOpenRanked(ctx, p.Table, p.Scope)
		if err != nil {
			return err
		}

		for rebuild := 0; rebuild <= maxRebuilds; rebuild++ {
			plan, exhausted := buildPlan(p, previous)
			if exhausted {
				// Rank space between neighbors ran out: close everything
				// and renumber from scratch with full padding.
				ids := make([]int64, 0, len(previous))
				for _, item := range previous {
					ids = append(ids, item.ID)
				}
				if err := tx.CloseRanked(ctx, p.Table, ids, p.LedgerSequence); err != nil {
					return err
				}
				s.logger.Info().
					Str("list", p.Table.Name()).
					Int("items", len(previous)).
					Msg("rank space exhausted; rebuilding list")
				previous = nil
				continue
			}

			if err := tx.CloseRanked(ctx, p.Table, plan.expire, p.LedgerSequence); err != nil {
				return err
			}
			for _, item := range plan.insert {
				item.SequenceStart = p.LedgerSequence
				item.SequenceEnd = nil
				if err := tx.InsertRanked(ctx, p.Table, p.Scope, item); err != nil {
					return err
				}
			}
			return nil
		}

		return fmt.Errorf("%w: list %s", ErrRankSpaceExhausted, p.Table.Name())
	})
}

// Read returns the list as of a ledger sequence, rank descending, paginated.
func (s *Synchronizer) Read(ctx context.Context, table storage.RankedTable, scope string, sequence int64, limit, offset int) ([]storage.RankedItem, error) {
	return s.store.ReadRankedAsOf(ctx, table, scope, sequence, limit, offset)
}

// plan is the write set of one sync pass: rows to close and freshly ranked
// rows to insert. Unchanged items appear in neither.
type plan struct {
	expire []int64
	insert []storage.RankedItem
}

// buildPlan computes the write set, or reports rank-space exhaustion without
// producing any writes. previous must be ordered by ascending rank.
func buildPlan(p Params, previous []storage.RankedItem) (plan, bool) {
	matched := make([]bool, len(previous))
	for _, item := range p.Items {
		for i, prev := range previous {
			if p.Compare.Unique(item, prev) {
				matched[i] = true
				break
			}
		}
	}

	var expired []storage.RankedItem
	var unchanged []*storage.RankedItem
	for i := range previous {
		if matched[i] {
			unchanged = append(unchanged, &previous[i])
		} else {
			expired = append(expired, previous[i])
		}
	}

	var toRank []*storage.RankedItem
	for _, item := range p.Items {
		prev := findUnique(p.Compare.Unique, item, previous)

		if prev == nil {
			fresh := item
			fresh.ID = 0
			toRank = append(toRank, &fresh)
			continue
		}

		if !p.Compare.Diff(item, *prev) {
			// No meaningful change: the previous row keeps its rank,
			// costing zero writes.
			continue
		}

		fresh := item
		fresh.ID = 0
		toRank = append(toRank, &fresh)
		expired = append(expired, *prev)
		unchanged = removeItem(unchanged, prev)
	}

	// Working list ascends by rank; each new item slots in before the first
	// entry whose score exceeds its own.
	final := make([]*storage.RankedItem, len(unchanged))
	copy(final, unchanged)

	for _, item := range toRank {
		inserted := false
		for i, existing := range final {
			if existing.Score.GreaterThan(item.Score) {
				final = append(final[:i], append([]*storage.RankedItem{item}, final[i:]...)...)
				inserted = true
				break
			}
		}
		if !inserted {
			final = append(final, item)
		}
	}

	for _, island := range findIslands(final) {
		if !assignRanks(island, final, unchanged) {
			return plan{}, true
		}
	}

	result := plan{}
	for _, item := range expired {
		result.expire = append(result.expire, item.ID)
	}
	for _, item := range toRank {
		result.insert = append(result.insert, *item)
	}
	return result, false
}

// island is a maximal contiguous run of not-yet-ranked items in the working
// list, ranked as one batch.
type island struct {
	start, end int
	items      []*storage.RankedItem
}

func findIslands(final []*storage.RankedItem) []island {
	var islands []island

	for i := 0; i < len(final); i++ {
		if final[i].ID != 0 {
			continue
		}

		run := island{start: i, end: i, items: []*storage.RankedItem{final[i]}}
		for j := i + 1; j < len(final); j++ {
			if final[j].ID != 0 {
				break
			}
			run.end = j
			run.items = append(run.items, final[j])
		}

		islands = append(islands, run)
		i = run.end
	}

	return islands
}

// assignRanks gives every island item a stored rank. Returns false when the
// interior gap is exhausted and a full rebuild is required.
func assignRanks(run island, final, unchanged []*storage.RankedItem) bool {
	size := int64(len(run.items))

	switch {
	case run.end == len(final)-1:
		// Tail island: pad upward from the last kept rank.
		var lastRank int64
		if len(unchanged) > 0 {
			lastRank = unchanged[len(unchanged)-1].Rank
		}
		for i, item := range run.items {
			item.Rank = lastRank + int64(i+1)*rankPadding
		}

	case run.start == 0:
		// Head island: pad downward from the first kept rank.
		var firstRank int64
		if len(unchanged) > 0 {
			firstRank = unchanged[0].Rank
		}
		for i, item := range run.items {
			item.Rank = firstRank - (size-int64(i))*rankPadding
		}

	default:
		head := final[run.start-1].Rank
		tail := final[run.end+1].Rank
		gap := (tail - head) / (size + 1)

		if gap < 1 {
			return false
		}
		for i, item := range run.items {
			item.Rank = head + int64(i+1)*gap
		}
	}

	return true
}

func findUnique(unique func(a, b storage.RankedItem) bool, item storage.RankedItem, previous []storage.RankedItem) *storage.RankedItem {
	for i := range previous {
		if unique(item, previous[i]) {
			return &previous[i]
		}
	}
	return nil
}

func removeItem(items []*storage.RankedItem, target *storage.RankedItem) []*storage.RankedItem {
	for i, item := range items {
		if item == target {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
