package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var fixedNow = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func setupUsersRepo(t *testing.T) (Users, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, CreateSchema(context.Background(), db))

	return NewUsersRepository(db, WithUsersClock(func() time.Time { return fixedNow })), db
}

func lineIdentity(uid string) auth.RawIdentity {
	return auth.RawIdentity{UID: uid, ProviderID: "line", DisplayName: "Taro"}
}

func TestUsers_RegisterIsIdempotent(t *testing.T) {
	repo, _ := setupUsersRepo(t)
	ctx := context.Background()

	first, err := repo.Register(ctx, lineIdentity("U100"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "U100", first.IdentityUID)
	assert.Equal(t, "Taro", first.DisplayName)
	assert.False(t, first.PhoneVerified)

	second, err := repo.Register(ctx, lineIdentity("U100"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	id, err := userID(lineIdentity("U100"))
	require.NoError(t, err)
	assert.Equal(t, id.String(), first.ID)
}

func TestUsers_RegisterRequiresUID(t *testing.T) {
	repo, _ := setupUsersRepo(t)

	_, err := repo.Register(context.Background(), auth.RawIdentity{ProviderID: "line"})
	require.Error(t, err)
}

func TestUsers_FindRegisteredUser(t *testing.T) {
	repo, _ := setupUsersRepo(t)
	ctx := context.Background()

	user, err := repo.FindRegisteredUser(ctx, lineIdentity("missing"))
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = repo.Register(ctx, lineIdentity("U200"))
	require.NoError(t, err)

	user, err = repo.FindRegisteredUser(ctx, lineIdentity("U200"))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "U200", user.IdentityUID)
}

func TestUsers_GetByProviderUIDNotFound(t *testing.T) {
	repo, _ := setupUsersRepo(t)

	_, err := repo.GetByProviderUID(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, isNotFound(err))
}

func TestUsers_IsRegistered(t *testing.T) {
	repo, _ := setupUsersRepo(t)
	ctx := context.Background()

	ok, err := repo.IsRegistered(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.IsRegistered(ctx, "U300")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Register(ctx, lineIdentity("U300"))
	require.NoError(t, err)

	ok, err = repo.IsRegistered(ctx, "U300")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsers_LinkPhone(t *testing.T) {
	repo, db := setupUsersRepo(t)
	ctx := context.Background()

	_, err := repo.Register(ctx, lineIdentity("U400"))
	require.NoError(t, err)

	cred := auth.PhoneCredential{
		VerificationID: "v-1",
		PhoneNumber:    "+819012345678",
		PhoneUID:       "phone-uid-1",
	}
	require.NoError(t, repo.LinkPhone(ctx, lineIdentity("U400"), cred))

	user, err := repo.FindRegisteredUser(ctx, lineIdentity("U400"))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.PhoneVerified)
	assert.Equal(t, "+819012345678", user.PhoneNumber)
	assert.Equal(t, "phone-uid-1", user.PhoneUID)

	// linking the same credential again is a no-op
	require.NoError(t, repo.LinkPhone(ctx, lineIdentity("U400"), cred))

	count, err := db.NewSelect().Model((*PhoneIdentity)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUsers_LinkPhoneFailures(t *testing.T) {
	repo, db := setupUsersRepo(t)
	ctx := context.Background()

	cred := auth.PhoneCredential{PhoneNumber: "+819012345678", PhoneUID: "phone-uid-2"}

	t.Run("unregistered identity", func(t *testing.T) {
		err := repo.LinkPhone(ctx, lineIdentity("ghost"), cred)
		require.Error(t, err)
		assert.True(t, auth.IsKind(err, auth.KindLinkIncomplete))
	})

	t.Run("incomplete credential", func(t *testing.T) {
		err := repo.LinkPhone(ctx, lineIdentity("ghost"), auth.PhoneCredential{PhoneNumber: "+819012345678"})
		require.Error(t, err)
		assert.True(t, auth.IsKind(err, auth.KindLinkIncomplete))
	})

	t.Run("phone owned by another account", func(t *testing.T) {
		_, err := repo.Register(ctx, lineIdentity("owner"))
		require.NoError(t, err)
		_, err = repo.Register(ctx, lineIdentity("other"))
		require.NoError(t, err)

		require.NoError(t, repo.LinkPhone(ctx, lineIdentity("owner"), cred))

		err = repo.LinkPhone(ctx, lineIdentity("other"), cred)
		require.Error(t, err)
		assert.True(t, auth.IsKind(err, auth.KindLinkIncomplete))

		other, err := repo.FindRegisteredUser(ctx, lineIdentity("other"))
		require.NoError(t, err)
		assert.False(t, other.PhoneVerified)

		count, err := db.NewSelect().Model((*PhoneIdentity)(nil)).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestManager(t *testing.T) {
	_, db := setupUsersRepo(t)

	m := NewManager(db)
	require.NoError(t, m.Validate())
	assert.NotNil(t, m.Users())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	assert.Error(t, (mngr{}).Validate())
}
