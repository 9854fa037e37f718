package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoreboardAPI/internal/store"
)

func TestLoad_RejectsDuplicateKeys(t *testing.T) {
	g := newTestGame(t, twoUserSnapshot(flat))

	dup := twoUserSnapshot(flat)
	dup.Users[1].AuthToken = dup.Users[0].AuthToken
	err := g.Load(dup)
	require.ErrorIs(t, err, ErrDuplicateKey)

	// the previous registries survive
	u, err := g.UserByAuthToken("auth-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.ID)

	dup = twoUserSnapshot(flat)
	dup.Flags = append(dup.Flags, flagRec(101, 10, 5, flat))
	dup.Flags[1].Token = dup.Flags[0].Token
	assert.ErrorIs(t, g.Load(dup), ErrDuplicateKey)
}

func TestUsers_ApplyUpdate(t *testing.T) {
	g := newTestGame(t, twoUserSnapshot(flat))
	_, err := g.Sync(nil, true)
	require.NoError(t, err)
	require.False(t, g.NeedsReset())

	t.Run("add does not reset", func(t *testing.T) {
		rec := userRec(3, "external")
		require.NoError(t, g.ApplyUser(3, &rec))
		assert.False(t, g.NeedsReset())

		u, err := g.UserByAuthToken("auth-3")
		require.NoError(t, err)
		assert.Equal(t, int64(3), u.ID)
		_, ok := g.users.ByLoginKey(rec.LoginKey)
		assert.True(t, ok)
	})

	t.Run("duplicate auth token on add is rejected", func(t *testing.T) {
		rec := userRec(4, "external")
		rec.AuthToken = "auth-1"
		err := g.ApplyUser(4, &rec)
		require.ErrorIs(t, err, ErrDuplicateKey)

		_, err = g.UserByID(4)
		assert.ErrorIs(t, err, ErrNotFound)
		u, err := g.UserByAuthToken("auth-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), u.ID)
	})

	t.Run("duplicate login key on modify is rejected", func(t *testing.T) {
		orig := userRec(2, "internal")
		rec := orig
		rec.LoginKey = userRec(1, "internal").LoginKey
		require.ErrorIs(t, g.ApplyUser(2, &rec), ErrDuplicateKey)

		u, ok := g.users.ByLoginKey(orig.LoginKey)
		require.True(t, ok)
		assert.Equal(t, int64(2), u.ID())
		u, ok = g.users.ByLoginKey(rec.LoginKey)
		require.True(t, ok)
		assert.Equal(t, int64(1), u.ID())
	})

	t.Run("profile edit does not reset", func(t *testing.T) {
		rec := userRec(1, "internal")
		rec.Profile.Fields["nickname"] = "renamed"
		rec.AuthToken = "auth-1-rotated"
		require.NoError(t, g.ApplyUser(1, &rec))
		assert.False(t, g.NeedsReset())

		_, err := g.UserByAuthToken("auth-1")
		assert.ErrorIs(t, err, ErrNotFound)
		u, err := g.UserByAuthToken("auth-1-rotated")
		require.NoError(t, err)
		assert.Equal(t, "renamed", u.Profile["nickname"])
	})

	t.Run("group change resets", func(t *testing.T) {
		rec := userRec(2, "staff")
		require.NoError(t, g.ApplyUser(2, &rec))
		assert.True(t, g.NeedsReset())
	})

	t.Run("removal resets", func(t *testing.T) {
		_, err := g.Sync(nil, false)
		require.NoError(t, err)

		require.NoError(t, g.ApplyUser(3, nil))
		assert.True(t, g.NeedsReset())
		_, err = g.UserByAuthToken("auth-3")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("removing an unknown id is a no-op", func(t *testing.T) {
		_, err := g.Sync(nil, false)
		require.NoError(t, err)
		require.NoError(t, g.ApplyUser(42, nil))
		assert.False(t, g.NeedsReset())
	})
}

func TestChallengesAndFlags_ApplyUpdate(t *testing.T) {
	g := newTestGame(t, twoUserSnapshot(flat))
	_, err := g.Sync(nil, true)
	require.NoError(t, err)

	rec := chalRec(10, "Algorithm", 100)
	rec.Title = "new title"
	require.NoError(t, g.ApplyChallenge(10, &rec))
	assert.False(t, g.NeedsReset(), "title edit")

	rec.Category = "Web"
	require.NoError(t, g.ApplyChallenge(10, &rec))
	assert.True(t, g.NeedsReset(), "category edit")
	_, err = g.Sync(nil, false)
	require.NoError(t, err)

	other := chalRec(11, "Misc")
	other.Key = "ch10"
	require.ErrorIs(t, g.ApplyChallenge(11, &other), ErrDuplicateKey)
	_, ok := g.challenges.Get(11)
	assert.False(t, ok)

	f := flagRec(100, 10, 100, flat)
	f.Name = "renamed"
	require.NoError(t, g.ApplyFlag(100, &f))
	assert.False(t, g.NeedsReset(), "flag rename")

	f.BaseScore = 300
	require.NoError(t, g.ApplyFlag(100, &f))
	assert.True(t, g.NeedsReset(), "base score edit")
	_, err = g.Sync(nil, false)
	require.NoError(t, err)
	got, _ := g.flags.Get(100)
	assert.Equal(t, 300, got.CurrentScore())

	nf := flagRec(101, 10, 50, flat)
	nf.Token = f.Token
	require.ErrorIs(t, g.ApplyFlag(101, &nf), ErrDuplicateKey)

	nf.Token = "flag{new}"
	require.NoError(t, g.ApplyFlag(101, &nf))
	assert.True(t, g.NeedsReset(), "new flag")
	_, ok = g.flags.ByToken("flag{new}")
	assert.True(t, ok)

	require.NoError(t, g.ApplyFlag(101, nil))
	_, ok = g.flags.ByToken("flag{new}")
	assert.False(t, ok)
}

func TestGame_TriggersDoNotReset(t *testing.T) {
	g := newTestGame(t, twoUserSnapshot(flat))
	_, err := g.Sync(nil, true)
	require.NoError(t, err)

	require.NoError(t, g.ApplyTrigger(1, &store.TriggerRecord{ID: 1, Tick: 1, TimestampS: at(10).Unix(), Name: "start"}))
	assert.False(t, g.NeedsReset())
	assert.Equal(t, 1, g.CurrentTick(at(11)))
}
