package conflict

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/nibble-app/nibblesync/internal/record"
)

// Strategy selects how conflicting local and remote versions of the
// same logical record are reconciled. Chosen per deployment, not per
// call.
type Strategy string

const (
	// StrategyRemoteWins discards local changes and adopts the server
	// version
	StrategyRemoteWins Strategy = "remote-wins"
	// StrategyLocalWins re-submits the local version as a forced
	// overwrite of server state
	StrategyLocalWins Strategy = "local-wins"
	// StrategyFieldMerge merges per field: newer side wins, monotonic
	// numeric fields take the maximum, list fields take the set union
	StrategyFieldMerge Strategy = "field-merge"
	// StrategyManual surfaces both versions and blocks further sync of
	// the record until resolved externally
	StrategyManual Strategy = "manual"
)

// ParseStrategy validates and returns a conflict strategy
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRemoteWins, StrategyLocalWins, StrategyFieldMerge, StrategyManual:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("conflict: unknown strategy %q", s)
	}
}

// Config holds resolver settings
type Config struct {
	Strategy string `toml:"strategy"`
	// Numeric fields that only ever increase on any device; merged by
	// taking the maximum rather than the newer timestamp
	MonotonicFields []string `toml:"monotonic_fields"`
}

// DefaultConfig returns resolver defaults
func DefaultConfig() Config {
	return Config{
		Strategy:        string(StrategyFieldMerge),
		MonotonicFields: []string{"experience", "level"},
	}
}

// Validate checks resolver configuration
func (c Config) Validate() error {
	_, err := ParseStrategy(c.Strategy)
	return err
}

// Resolution is the outcome of resolving one conflict. When Manual is
// set no winner exists; both versions are surfaced and the record is
// blocked from sync until resolved externally.
type Resolution struct {
	Winner *record.Record
	Manual bool
	Local  *record.Record
	Remote *record.Record
	Source string // "local", "remote" or "merged"
}

// Resolver reconciles conflicting record versions. Given the same pair
// of inputs and the same strategy, every device produces the same
// winning record.
type Resolver struct {
	strategy  Strategy
	monotonic map[string]bool
	logger    *slog.Logger
}

// New creates a resolver from configuration
func New(config Config, logger *slog.Logger) (*Resolver, error) {
	strategy, err := ParseStrategy(config.Strategy)
	if err != nil {
		return nil, err
	}

	monotonic := make(map[string]bool, len(config.MonotonicFields))
	for _, name := range config.MonotonicFields {
		monotonic[name] = true
	}

	return &Resolver{
		strategy:  strategy,
		monotonic: monotonic,
		logger:    logger,
	}, nil
}

// Strategy returns the configured strategy
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve produces the winning version for a local/remote conflict
func (r *Resolver) Resolve(local, remote *record.Record) (*Resolution, error) {
	if local == nil || remote == nil {
		return nil, fmt.Errorf("conflict: both versions required")
	}
	if local.ID != remote.ID {
		return nil, fmt.Errorf("conflict: id mismatch %s vs %s", local.ID, remote.ID)
	}

	res := &Resolution{Local: local, Remote: remote}

	switch r.strategy {
	case StrategyRemoteWins:
		winner := remote.Clone()
		winner.Dirty = false
		res.Winner = winner
		res.Source = "remote"

	case StrategyLocalWins:
		winner := local.Clone()
		// Adopt the server's current tag so the forced overwrite
		// targets the version the server actually holds
		winner.RemoteTag = remote.RemoteTag
		winner.Dirty = true
		res.Winner = winner
		res.Source = "local"

	case StrategyFieldMerge:
		res.Winner = r.merge(local, remote)
		res.Source = "merged"

	case StrategyManual:
		res.Manual = true

	default:
		return nil, fmt.Errorf("conflict: unknown strategy %q", r.strategy)
	}

	if res.Winner != nil {
		r.logger.Debug("conflict resolved",
			"record_id", local.ID,
			"strategy", string(r.strategy),
			"source", res.Source)
	}

	return res, nil
}

// merge builds the field-merged winner. Field order follows the newer
// side with older-only fields appended in that side's order; since
// orderByRecency ignores which side is local, the merged shape is
// identical no matter which device computes it.
func (r *Resolver) merge(local, remote *record.Record) *record.Record {
	newer, older := orderByRecency(local, remote)

	winner := local.Clone()
	winner.Fields = winner.Fields[:0]

	mergeField := func(name string) record.Value {
		lv, lok := local.Field(name)
		rv, rok := remote.Field(name)

		switch {
		case lok && rok:
			if r.monotonic[name] && lv.Type == record.TypeNumber && rv.Type == record.TypeNumber {
				// Both sides only ever increase these; max is the
				// true merged value regardless of timestamps
				if lv.Num >= rv.Num {
					return lv.Clone()
				}
				return rv.Clone()
			}
			if lv.Type == record.TypeList && rv.Type == record.TypeList {
				return record.UnionList(lv, rv)
			}
			if nv, ok := newer.Field(name); ok {
				return nv.Clone()
			}
			if ov, ok := older.Field(name); ok {
				return ov.Clone()
			}
			return lv.Clone()
		case lok:
			return lv.Clone()
		default:
			return rv.Clone()
		}
	}

	for _, f := range newer.Fields {
		winner.SetField(f.Name, mergeField(f.Name))
	}
	for _, f := range older.Fields {
		if _, seen := newer.Field(f.Name); !seen {
			winner.SetField(f.Name, mergeField(f.Name))
		}
	}

	// Deterministic metadata: derived only from the two inputs, never
	// from the resolving device's clock
	winner.ModifiedAt = newer.ModifiedAt
	if remote.LocalVersion > local.LocalVersion {
		winner.LocalVersion = remote.LocalVersion
	}
	winner.LocalVersion++
	winner.RemoteTag = remote.RemoteTag
	winner.Dirty = true

	return winner
}

// orderByRecency returns (newer, older) between two versions of the
// same record. The comparison depends only on record properties, never
// on which side is "local", so both devices agree on the ordering.
func orderByRecency(a, b *record.Record) (*record.Record, *record.Record) {
	if a.ModifiedAt.After(b.ModifiedAt) {
		return a, b
	}
	if b.ModifiedAt.After(a.ModifiedAt) {
		return b, a
	}

	// Timestamps equal: prefer the higher local version ordinal
	if a.LocalVersion != b.LocalVersion {
		if a.LocalVersion > b.LocalVersion {
			return a, b
		}
		return b, a
	}

	// Then the higher remote tag ordinal
	if a.RemoteTag != b.RemoteTag {
		if a.RemoteTag > b.RemoteTag {
			return a, b
		}
		return b, a
	}

	// Same id on both sides by construction; fall back to a stable
	// byte comparison of the encoded fields so the choice is still
	// deterministic across devices
	ab, aerr := record.EncodeFields(a.Fields)
	bb, berr := record.EncodeFields(b.Fields)
	if aerr == nil && berr == nil && bytes.Compare(ab, bb) > 0 {
		return b, a
	}
	return a, b
}
