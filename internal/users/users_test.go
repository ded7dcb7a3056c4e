package users_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"pulsekit/internal/testsupport"
	"pulsekit/internal/users"
)

func TestCreateUser(t *testing.T) {
	t.Run("creates a user with a hashed password", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"users"})

		require.NoError(t, users.CreateUser(db, "dev@acme.dev", "s3cret-pass", false))

		user, err := users.FindByEmail(db, "dev@acme.dev")
		require.NoError(t, err)
		assert.False(t, user.IsAdmin)
		assert.NotEqual(t, "s3cret-pass", user.EncryptedPassword)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.EncryptedPassword), []byte("s3cret-pass")))
	})

	t.Run("rejects a duplicate email", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"users"})

		require.NoError(t, users.CreateUser(db, "dup@acme.dev", "s3cret-pass", false))
		err := users.CreateUser(db, "dup@acme.dev", "other-pass", false)
		assert.ErrorIs(t, err, users.ErrUserExists)
	})

	t.Run("rejects empty credentials", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"users"})

		assert.Error(t, users.CreateUser(db, "", "s3cret-pass", false))
		assert.Error(t, users.CreateUser(db, "nopass@acme.dev", "", false))
	})

	t.Run("admin flag sticks", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"users"})

		require.NoError(t, users.CreateAdminUser(db, "admin@acme.dev", "s3cret-pass"))

		user, err := users.FindByEmail(db, "admin@acme.dev")
		require.NoError(t, err)
		assert.True(t, user.IsAdmin)
	})
}

func TestChangePassword(t *testing.T) {
	t.Run("replaces the stored hash", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"users"})

		require.NoError(t, users.CreateUser(db, "change@acme.dev", "old-pass", false))
		require.NoError(t, users.ChangePassword(db, "change@acme.dev", "new-pass"))

		user, err := users.FindByEmail(db, "change@acme.dev")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.EncryptedPassword), []byte("new-pass")))
		assert.Error(t, bcrypt.CompareHashAndPassword([]byte(user.EncryptedPassword), []byte("old-pass")))
	})

	t.Run("errors for an unknown user", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		assert.Error(t, users.ChangePassword(db, "missing@acme.dev", "whatever"))
	})

	t.Run("rejects an empty password", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		assert.Error(t, users.ChangePassword(db, "anyone@acme.dev", ""))
	})
}

func TestSetupAdminUserIfNotExists(t *testing.T) {
	t.Run("creates the admin once and keeps the original password", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanTables(db, []string{"users"})

		users.SetupAdminUserIfNotExists(db, "root@acme.dev")

		user, err := users.FindByEmail(db, "root@acme.dev")
		require.NoError(t, err)
		assert.True(t, user.IsAdmin)
		firstHash := user.EncryptedPassword

		users.SetupAdminUserIfNotExists(db, "root@acme.dev")

		user, err = users.FindByEmail(db, "root@acme.dev")
		require.NoError(t, err)
		assert.Equal(t, firstHash, user.EncryptedPassword)
	})
}
