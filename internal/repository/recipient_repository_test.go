package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/repository"
)

var attemptable = pq.Array([]string{"pending", "claimed"})

// sqlLike builds an expectation that matches the literal fragments in order.
func sqlLike(fragments ...string) string {
	quoted := make([]string, len(fragments))
	for i, f := range fragments {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return strings.Join(quoted, ".*")
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var recipientColumns = []string{"id", "campaign_id", "contact_id", "phone", "name", "variables", "status", "claimed_at", "created_at"}

func TestClaimPendingSkipsLockedRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &repository.RecipientRepository{DB: db}

	campaignID := uuid.New()
	contactID := uuid.New()
	first, second := uuid.New(), uuid.New()
	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	created := now.Add(-time.Hour)

	mock.ExpectQuery(sqlLike(
		"UPDATE campaign_recipients SET status = $3, claimed_at = $4",
		"WHERE campaign_id = $1 AND status = $2",
		"ORDER BY created_at, id",
		"LIMIT $5",
		"FOR UPDATE SKIP LOCKED",
		"RETURNING id",
	)).
		WithArgs(campaignID, "pending", "claimed", now, 2).
		WillReturnRows(sqlmock.NewRows(recipientColumns).
			AddRow(second.String(), campaignID.String(), nil, "6281311112222", "Siti", []byte(`{"1":"Siti"}`), "claimed", now, created.Add(time.Second)).
			AddRow(first.String(), campaignID.String(), contactID.String(), "6281234567890", "Budi", []byte(`{"1":"Budi"}`), "claimed", now, created))

	batch, err := repo.ClaimPending(context.Background(), campaignID, 2, now)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	assert.Equal(t, first, batch[0].ID, "returned in creation order")
	assert.Equal(t, second, batch[1].ID)
	assert.Equal(t, model.RecipientClaimed, batch[0].Status)
	require.NotNil(t, batch[0].ContactID)
	assert.Equal(t, contactID, *batch[0].ContactID)
	assert.Nil(t, batch[1].ContactID)
	assert.Equal(t, model.Variables{"1": "Budi"}, batch[0].Variables)
	require.NotNil(t, batch[0].ClaimedAt)
	assert.True(t, now.Equal(*batch[0].ClaimedAt))
}

func TestClaimPendingNothingLeft(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &repository.RecipientRepository{DB: db}

	mock.ExpectQuery(sqlLike("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows(recipientColumns))

	batch, err := repo.ClaimPending(context.Background(), uuid.New(), 30, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, batch)
	assert.Empty(t, batch)
}

func TestReleaseStaleClaims(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &repository.RecipientRepository{DB: db}

	campaignID := uuid.New()
	cutoff := time.Date(2026, 3, 1, 2, 50, 0, 0, time.UTC)
	mock.ExpectExec(sqlLike(
		"UPDATE campaign_recipients SET status = $2, claimed_at = NULL",
		"WHERE campaign_id = $1 AND status = $3 AND claimed_at < $4",
	)).
		WithArgs(campaignID, "pending", "claimed", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ReleaseStaleClaims(context.Background(), campaignID, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMarkSentOnlyOverAttemptableRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "claimed row is recorded", affected: 1, want: true},
		{name: "already finished row is left alone", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := &repository.RecipientRepository{DB: db}
			id := uuid.New()

			mock.ExpectExec(sqlLike(
				"SET status = $2, content = $3, provider_message_id = $4, sent_at = $5, error_message = NULL",
				"WHERE id = $1 AND status = ANY($6)",
			)).
				WithArgs(id, "sent", "Halo Budi", "wamid.1", now, attemptable).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.MarkSent(context.Background(), id, "Halo Budi", "wamid.1", now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMarkFailedTruncatesError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &repository.RecipientRepository{DB: db}
	id := uuid.New()
	now := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	long := strings.Repeat("x", 600)

	mock.ExpectExec(sqlLike(
		"SET status = $2, content = $3, error_message = $4, failed_at = $5",
		"WHERE id = $1 AND status = ANY($6)",
	)).
		WithArgs(id, "failed", "Halo", strings.Repeat("x", model.MaxErrorMessageLength), now, attemptable).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkFailed(context.Background(), id, "Halo", long, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyDeliveryStatus(t *testing.T) {
	at := time.Date(2026, 3, 1, 3, 5, 0, 0, time.UTC)
	campaignID := uuid.New()

	tests := []struct {
		name    string
		status  model.RecipientStatus
		errMsg  string
		stamp   string
		prev    []string
		rows    *sqlmock.Rows
		dbErr   error
		want    bool
		wantErr bool
	}{
		{
			name:   "delivered advances from sent",
			status: model.RecipientDelivered,
			stamp:  "delivered_at = COALESCE(delivered_at, $3)",
			prev:   []string{"pending", "claimed", "sent"},
			rows:   sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID.String()),
			want:   true,
		},
		{
			name:   "read may skip delivered",
			status: model.RecipientRead,
			stamp:  "read_at = COALESCE(read_at, $3)",
			prev:   []string{"pending", "claimed", "sent", "delivered"},
			rows:   sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID.String()),
			want:   true,
		},
		{
			name:   "regression matches no row",
			status: model.RecipientDelivered,
			stamp:  "delivered_at = COALESCE(delivered_at, $3)",
			prev:   []string{"pending", "claimed", "sent"},
			rows:   sqlmock.NewRows([]string{"campaign_id"}),
		},
		{
			name:   "failure keeps the provider reason",
			status: model.RecipientFailed,
			errMsg: "131026 Message undeliverable",
			stamp:  "failed_at = COALESCE(failed_at, $3)",
			prev:   []string{"pending", "claimed", "sent"},
			rows:   sqlmock.NewRows([]string{"campaign_id"}).AddRow(campaignID.String()),
			want:   true,
		},
		{
			name:    "database error",
			status:  model.RecipientRead,
			stamp:   "read_at",
			prev:    []string{"pending", "claimed", "sent", "delivered"},
			dbErr:   errors.New("connection reset"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := &repository.RecipientRepository{DB: db}

			q := mock.ExpectQuery(sqlLike(
				"SET status = $2, "+tt.stamp,
				"error_message = COALESCE(NULLIF($4, ''), error_message)",
				"WHERE provider_message_id = $1 AND status = ANY($5)",
				"RETURNING campaign_id",
			)).WithArgs("wamid.1", string(tt.status), at, tt.errMsg, pq.Array(tt.prev))
			if tt.dbErr != nil {
				q.WillReturnError(tt.dbErr)
			} else {
				q.WillReturnRows(tt.rows)
			}

			got, ok, err := repo.ApplyDeliveryStatus(context.Background(), "wamid.1", tt.status, at, tt.errMsg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, campaignID, got)
			} else {
				assert.Equal(t, uuid.Nil, got)
			}
		})
	}
}

func TestApplyDeliveryStatusIgnoresUnknownStatus(t *testing.T) {
	db, _ := newMockDB(t)
	repo := &repository.RecipientRepository{DB: db}

	_, ok, err := repo.ApplyDeliveryStatus(context.Background(), "wamid.1", model.RecipientPending, time.Now(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}
