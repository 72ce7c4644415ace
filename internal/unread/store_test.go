package unread_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/unread"
)

func TestMigrate_Idempotent(t *testing.T) {
	db, err := unread.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, unread.Migrate(db))
	require.NoError(t, unread.Migrate(db))

	var count int64
	require.NoError(t, db.QueryRow("SELECT count(*) FROM kv").Scan(&count))
	assert.Zero(t, count)
}

func TestSQLiteStore_EmptyLoad(t *testing.T) {
	db, err := unread.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := unread.NewSQLiteStore(db)
	require.NoError(t, err)

	flags, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	db, err := unread.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s, err := unread.NewSQLiteStore(db)
	require.NoError(t, err)

	require.NoError(t, s.Save(map[claims.Key]bool{"5551230000": true, "5551230001": true}))
	require.NoError(t, s.Save(map[claims.Key]bool{"5551230001": true, "5551230002": false}))

	flags, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[claims.Key]bool{"5551230001": true}, flags)

	var rows int64
	require.NoError(t, db.QueryRow("SELECT count(*) FROM kv").Scan(&rows))
	assert.Equal(t, int64(1), rows)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimsync.db")

	s, err := unread.OpenSQLiteStore(path)
	require.NoError(t, err)
	cache, err := claims.NewCache(s)
	require.NoError(t, err)
	cache.Reset("agent-a")

	gen := cache.ApplyLocalClaim(claims.ClaimIntent{Key: "5551230000", TicketID: "T1"})
	cache.ConfirmClaim(gen, claims.ClaimedEntry{Key: "5551230000", TicketID: "T1"})
	cache.OpenPage(claims.ConversationPage("5551239999"))
	cache.ApplyPollResult([]claims.Key{"5551230000"})
	require.NoError(t, s.Close())

	s, err = unread.OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	reloaded, err := claims.NewCache(s)
	require.NoError(t, err)
	assert.True(t, reloaded.Snapshot().IsUnread("5551230000"))
}

func TestMemoryStore(t *testing.T) {
	m := unread.NewMemoryStore()

	flags, err := m.Load()
	require.NoError(t, err)
	assert.Empty(t, flags)

	in := map[claims.Key]bool{"5551230000": true}
	require.NoError(t, m.Save(in))
	in["5551230001"] = true

	flags, err = m.Load()
	require.NoError(t, err)
	assert.Equal(t, map[claims.Key]bool{"5551230000": true}, flags, "store keeps its own copy")
}
