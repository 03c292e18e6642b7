package store_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"mabletask/agent/store"
)

var installColumns = []string{"id", "organization_id", "key_hash", "allowed_origin", "active", "created_at", "updated_at"}

func TestInstallStore_Authenticate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte("sf_pub_good"), bcrypt.MinCost)
	require.NoError(t, err)
	other, err := bcrypt.GenerateFromPassword([]byte("sf_pub_other"), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM installations")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(installColumns).
			AddRow(1, "org-1", other, "https://a.example", true, now, now).
			AddRow(2, "org-1", hash, "https://b.example", true, now, now))

	s := store.NewInstallStore(db)
	inst, err := s.Authenticate(context.Background(), "org-1", "sf_pub_good")
	require.NoError(t, err)
	assert.Equal(t, 2, inst.ID)
	assert.Equal(t, "https://b.example", inst.AllowedOrigin)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallStore_AuthenticateRejectsUnknownKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM installations")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(installColumns))

	_, err = store.NewInstallStore(db).Authenticate(context.Background(), "org-1", "nope")
	assert.ErrorIs(t, err, store.ErrInstallationNotFound)
}

func TestInstallStore_CreateInstallation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO installations")).
		WithArgs("org-1", sqlmock.AnyArg(), "https://a.example").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "allowed_origin", "active", "created_at", "updated_at"}).
			AddRow(7, "org-1", "https://a.example", true, now, now))

	inst, err := store.NewInstallStore(db).CreateInstallation(context.Background(), "org-1", "sf_pub_new", "https://a.example")
	require.NoError(t, err)
	assert.Equal(t, 7, inst.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword(inst.KeyHash, []byte("sf_pub_new")))
	require.NoError(t, mock.ExpectationsWereMet())
}
