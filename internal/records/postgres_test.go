package records

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

var (
	selectUser  = regexp.QuoteMeta(`SELECT id, doc, version FROM record_users WHERE id = $1`)
	updateUser  = regexp.QuoteMeta(`UPDATE record_users SET doc = $2, version = version + 1`)
	insertUser  = regexp.QuoteMeta(`INSERT INTO record_users (id, doc, version, updated_at)`)
	selectStats = regexp.QuoteMeta(`SELECT doc, version FROM record_stats WHERE id = 1`)
	updateStats = regexp.QuoteMeta(`UPDATE record_stats SET doc = $1, version = version + 1`)
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres")), mock
}

func userRows(t *testing.T, u *UserRecord, version int64) *sqlmock.Rows {
	t.Helper()
	doc, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return sqlmock.NewRows([]string{"id", "doc", "version"}).AddRow(u.ID, doc, version)
}

func TestPostgresUpdateRetriesOnVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	u := &UserRecord{ID: 7, Username: "bob", Balance: 1}

	mock.ExpectQuery(selectUser).WithArgs(int64(7)).WillReturnRows(userRows(t, u, 3))
	mock.ExpectExec(updateUser).WithArgs(int64(7), sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	bumped := *u
	bumped.Balance = 5
	mock.ExpectQuery(selectUser).WithArgs(int64(7)).WillReturnRows(userRows(t, &bumped, 4))
	mock.ExpectExec(updateUser).WithArgs(int64(7), sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	calls := 0
	got, err := s.Update(context.Background(), 7, func(u *UserRecord, found bool) error {
		calls++
		if !found {
			t.Fatalf("user should exist")
		}
		u.Balance += 2
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if calls != 2 || got.Balance != 7 {
		t.Fatalf("calls = %d balance = %v", calls, got.Balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresUpdateGivesUpAfterConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	u := &UserRecord{ID: 7, Username: "bob"}
	for v := int64(1); v <= casAttempts; v++ {
		mock.ExpectQuery(selectUser).WithArgs(int64(7)).WillReturnRows(userRows(t, u, v))
		mock.ExpectExec(updateUser).WithArgs(int64(7), sqlmock.AnyArg(), v).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	calls := 0
	_, err := s.Update(context.Background(), 7, func(u *UserRecord, _ bool) error {
		calls++
		u.Balance++
		return nil
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if calls != casAttempts {
		t.Fatalf("calls = %d, want %d", calls, casAttempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresUpdateInsertsNewUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(selectUser).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "doc", "version"}))
	mock.ExpectExec(insertUser).WithArgs(int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.Update(context.Background(), 9, func(u *UserRecord, found bool) error {
		if found {
			t.Fatalf("user should be new")
		}
		*u = *NewUser(9, "carol", "Carol", now)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ID != 9 || got.Username != "carol" || !got.RegistrationDate.Equal(now) {
		t.Fatalf("record = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresUpdateUnchangedSkipsWrite(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(selectUser).WithArgs(int64(7)).
		WillReturnRows(userRows(t, &UserRecord{ID: 7, Balance: 3}, 2))

	got, err := s.Update(context.Background(), 7, func(*UserRecord, bool) error { return ErrUnchanged })
	if err != nil || got.Balance != 3 {
		t.Fatalf("got = %+v err = %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresUpdateStatsRetries(t *testing.T) {
	s, mock := newMockStore(t)
	stats := func(referrals int, version int64) *sqlmock.Rows {
		doc, _ := json.Marshal(Stats{TotalReferrals: referrals})
		return sqlmock.NewRows([]string{"doc", "version"}).AddRow(doc, version)
	}
	mock.ExpectQuery(selectStats).WillReturnRows(stats(1, 1))
	mock.ExpectExec(updateStats).WithArgs(sqlmock.AnyArg(), int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectStats).WillReturnRows(stats(2, 2))
	mock.ExpectExec(updateStats).WithArgs(sqlmock.AnyArg(), int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))

	var seen []int
	err := s.UpdateStats(context.Background(), func(st *Stats) error {
		seen = append(seen, st.TotalReferrals)
		st.TotalReferrals++
		return nil
	})
	if err != nil {
		t.Fatalf("update stats: %v", err)
	}
	if len(seen) != 2 || seen[1] != 2 {
		t.Fatalf("seen = %v", seen)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
