package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nibble-app/nibblesync/internal/record"
	"github.com/nibble-app/nibblesync/internal/testutil"
)

func newResolver(t *testing.T, strategy Strategy) *Resolver {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Strategy = string(strategy)
	r, err := New(cfg, testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	return r
}

// conflictPair builds diverged local and remote versions of one pet
// record. Local is the newer side.
func conflictPair() (*record.Record, *record.Record) {
	base := record.New(record.KindPet, "user-1")
	base.SetField("name", record.String("Mochi"))
	base.SetField("experience", record.Number(100))
	base.SetField("badges", record.List([]string{"first-feed"}))
	base.RemoteTag = "tag-1"
	base.Dirty = false

	local := base.Clone()
	local.SetField("name", record.String("Mochi Prime"))
	local.SetField("experience", record.Number(130))
	local.SetField("badges", record.List([]string{"first-feed", "week-streak"}))
	local.LocalVersion = 3
	local.ModifiedAt = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	local.Dirty = true

	remote := base.Clone()
	remote.SetField("experience", record.Number(120))
	remote.SetField("badges", record.List([]string{"first-feed", "night-owl"}))
	remote.SetField("mood", record.String("sleepy"))
	remote.LocalVersion = 2
	remote.ModifiedAt = time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	remote.RemoteTag = "tag-2"
	remote.Dirty = false

	return local, remote
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"remote-wins", "local-wins", "field-merge", "manual"} {
		if _, err := ParseStrategy(s); err != nil {
			t.Errorf("ParseStrategy(%s): %v", s, err)
		}
	}
	if _, err := ParseStrategy("coin-flip"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestResolveRemoteWins(t *testing.T) {
	r := newResolver(t, StrategyRemoteWins)
	local, remote := conflictPair()

	res, err := r.Resolve(local, remote)
	require.NoError(t, err)
	require.False(t, res.Manual)

	name, _ := res.Winner.Field("name")
	require.Equal(t, "Mochi", name.Str)
	require.Equal(t, "tag-2", res.Winner.RemoteTag)
	require.False(t, res.Winner.Dirty, "remote winner needs no re-upload")
}

func TestResolveLocalWins(t *testing.T) {
	r := newResolver(t, StrategyLocalWins)
	local, remote := conflictPair()

	res, err := r.Resolve(local, remote)
	require.NoError(t, err)

	name, _ := res.Winner.Field("name")
	require.Equal(t, "Mochi Prime", name.Str)
	// Forced overwrite targets the version the server holds now
	require.Equal(t, "tag-2", res.Winner.RemoteTag)
	require.True(t, res.Winner.Dirty, "local winner must re-upload")
}

func TestResolveManualStrategy(t *testing.T) {
	r := newResolver(t, StrategyManual)
	local, remote := conflictPair()

	res, err := r.Resolve(local, remote)
	require.NoError(t, err)
	require.True(t, res.Manual)
	require.Nil(t, res.Winner)
	require.Same(t, local, res.Local)
	require.Same(t, remote, res.Remote)
}

func TestFieldMergeMonotonicMax(t *testing.T) {
	r := newResolver(t, StrategyFieldMerge)
	local, remote := conflictPair()

	res, err := r.Resolve(local, remote)
	require.NoError(t, err)

	// experience is monotonic: 130 vs 120 merges to 130 even though
	// a plain newer-wins would also say 130; flip the numbers to make
	// sure max wins against recency too
	exp, _ := res.Winner.Field("experience")
	require.Equal(t, float64(130), exp.Num)

	local2, remote2 := conflictPair()
	local2.SetField("experience", record.Number(90))
	res2, err := r.Resolve(local2, remote2)
	require.NoError(t, err)
	exp2, _ := res2.Winner.Field("experience")
	require.Equal(t, float64(120), exp2.Num, "older but larger value wins for monotonic fields")
}

func TestFieldMergeListUnion(t *testing.T) {
	r := newResolver(t, StrategyFieldMerge)
	local, remote := conflictPair()

	res, err := r.Resolve(local, remote)
	require.NoError(t, err)

	badges, _ := res.Winner.Field("badges")
	require.Equal(t, []string{"first-feed", "night-owl", "week-streak"}, badges.List)
}

func TestFieldMergeNewerWinsScalars(t *testing.T) {
	r := newResolver(t, StrategyFieldMerge)
	local, remote := conflictPair()

	res, err := r.Resolve(local, remote)
	require.NoError(t, err)

	// local is newer, its name wins; remote-only fields survive
	name, _ := res.Winner.Field("name")
	require.Equal(t, "Mochi Prime", name.Str)
	mood, ok := res.Winner.Field("mood")
	require.True(t, ok)
	require.Equal(t, "sleepy", mood.Str)
}

func TestFieldMergeDeterministicAcrossDevices(t *testing.T) {
	r := newResolver(t, StrategyFieldMerge)
	a, b := conflictPair()

	// Device one sees (a local, b remote); device two the reverse
	res1, err := r.Resolve(a, b)
	require.NoError(t, err)
	res2, err := r.Resolve(b, a)
	require.NoError(t, err)

	require.Equal(t, res1.Winner.FieldNames(), res2.Winner.FieldNames())
	for _, name := range res1.Winner.FieldNames() {
		v1, _ := res1.Winner.Field(name)
		v2, _ := res2.Winner.Field(name)
		require.True(t, v1.Equal(v2), "field %s diverged between devices", name)
	}
	require.Equal(t, res1.Winner.ModifiedAt, res2.Winner.ModifiedAt)
}

func TestFieldMergeCanonicalFieldOrder(t *testing.T) {
	r := newResolver(t, StrategyFieldMerge)

	// Same fields, written in different orders on each device
	a := record.New(record.KindPet, "user-1")
	a.ID = "pet-1"
	a.SetField("name", record.String("Mochi"))
	a.SetField("mood", record.String("happy"))
	a.SetField("experience", record.Number(130))
	a.LocalVersion = 3
	a.ModifiedAt = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	b := record.New(record.KindPet, "user-1")
	b.ID = "pet-1"
	b.SetField("experience", record.Number(120))
	b.SetField("mood", record.String("sleepy"))
	b.SetField("name", record.String("Mochi"))
	b.LocalVersion = 2
	b.ModifiedAt = time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	b.RemoteTag = "tag-2"

	res1, err := r.Resolve(a, b)
	require.NoError(t, err)
	res2, err := r.Resolve(b, a)
	require.NoError(t, err)

	// Order is canonical: the newer side's insertion order, whichever
	// device computes the merge
	require.Equal(t, a.FieldNames(), res1.Winner.FieldNames())
	require.Equal(t, res1.Winner.FieldNames(), res2.Winner.FieldNames())

	enc1, err := record.EncodeFields(res1.Winner.Fields)
	require.NoError(t, err)
	enc2, err := record.EncodeFields(res2.Winner.Fields)
	require.NoError(t, err)
	require.Equal(t, enc1, enc2, "merged payloads must be byte-identical across devices")
}

func TestFieldMergeTieBreakOnEqualTimestamps(t *testing.T) {
	r := newResolver(t, StrategyFieldMerge)
	local, remote := conflictPair()
	remote.ModifiedAt = local.ModifiedAt

	// local has the higher version ordinal, so its scalars win
	res, err := r.Resolve(local, remote)
	require.NoError(t, err)
	name, _ := res.Winner.Field("name")
	require.Equal(t, "Mochi Prime", name.Str)

	// both directions agree
	res2, err := r.Resolve(remote, local)
	require.NoError(t, err)
	name2, _ := res2.Winner.Field("name")
	require.Equal(t, "Mochi Prime", name2.Str)
}

func TestFieldMergeMetadata(t *testing.T) {
	r := newResolver(t, StrategyFieldMerge)
	local, remote := conflictPair()

	res, err := r.Resolve(local, remote)
	require.NoError(t, err)

	require.Equal(t, local.ModifiedAt, res.Winner.ModifiedAt, "merged record carries the newer timestamp")
	require.Equal(t, "tag-2", res.Winner.RemoteTag)
	require.True(t, res.Winner.Dirty, "merged record must re-upload")
	require.Greater(t, res.Winner.LocalVersion, local.LocalVersion)
}

func TestResolveRejectsBadInput(t *testing.T) {
	r := newResolver(t, StrategyRemoteWins)
	local, remote := conflictPair()

	_, err := r.Resolve(nil, remote)
	require.Error(t, err)

	other := record.New(record.KindPet, "user-1")
	_, err = r.Resolve(local, other)
	require.Error(t, err, "mismatched ids must be rejected")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Strategy = "coin-flip"
	require.Error(t, cfg.Validate())
}
