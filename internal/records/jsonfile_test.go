package records

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func openTemp(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database.json")
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, path
}

func TestFileStoreCreatesDocument(t *testing.T) {
	_, path := openTemp(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("document is not json: %v", err)
	}
	if _, ok := raw["users"]; !ok {
		t.Fatalf("missing users key: %s", data)
	}
	if _, ok := raw["stats"]; !ok {
		t.Fatalf("missing stats key: %s", data)
	}
}

func TestFileStoreTouchSetsRegistrationOnce(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return first }

	u, created, err := Touch(ctx, s, 10, "bob", "Bob", clock)
	if err != nil || !created {
		t.Fatalf("first touch: created=%v err=%v", created, err)
	}
	if !u.RegistrationDate.Equal(first) {
		t.Fatalf("registration = %v", u.RegistrationDate)
	}

	later := func() time.Time { return first.Add(48 * time.Hour) }
	if _, created, err = Touch(ctx, s, 10, "bob", "Bob", later); err != nil || created {
		t.Fatalf("second touch: created=%v err=%v", created, err)
	}
	if _, _, err = Touch(ctx, s, 10, "bobby", "Bob", later); err != nil {
		t.Fatalf("rename touch: %v", err)
	}
	got, err := s.GetUser(ctx, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.RegistrationDate.Equal(first) || got.Username != "bobby" {
		t.Fatalf("record = %+v", got)
	}
}

func TestFileStoreUpdateAbortLeavesRecord(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	if err := s.PutUser(ctx, &UserRecord{ID: 5, Balance: 100}); err != nil {
		t.Fatalf("put: %v", err)
	}
	boom := errors.New("insufficient")
	_, err := s.Update(ctx, 5, func(u *UserRecord, found bool) error {
		u.Balance -= 500
		u.Withdrawals = append(u.Withdrawals, WithdrawalRequest{Amount: 500})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, _ := s.GetUser(ctx, 5)
	if got.Balance != 100 || len(got.Withdrawals) != 0 {
		t.Fatalf("aborted update leaked: %+v", got)
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	s, _ := openTemp(t)
	if _, err := s.GetUser(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFileStoreListOrdered(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	for _, id := range []int64{30, 10, 20} {
		if err := s.PutUser(ctx, &UserRecord{ID: id}); err != nil {
			t.Fatalf("put %d: %v", id, err)
		}
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 3 || users[0].ID != 10 || users[1].ID != 20 || users[2].ID != 30 {
		t.Fatalf("order = %v %v %v", users[0].ID, users[1].ID, users[2].ID)
	}
}

func TestFileStoreCorruptDocumentMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	users, err := s.ListUsers(context.Background())
	if err != nil || len(users) != 0 {
		t.Fatalf("users = %d err = %v", len(users), err)
	}
	entries, _ := os.ReadDir(dir)
	moved := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "database.json.corrupt-") {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("corrupt file was not moved aside")
	}
	if err := s.PutUser(context.Background(), &UserRecord{ID: 1}); err != nil {
		t.Fatalf("put after recovery: %v", err)
	}
}

func TestFileStoreConcurrentUpdatesSerialize(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, 1, func(u *UserRecord, found bool) error {
				u.Balance++
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()
	got, _ := s.GetUser(ctx, 1)
	if got.Balance != n {
		t.Fatalf("balance = %v, want %d", got.Balance, n)
	}
}

func TestFileStoreStats(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	err := s.UpdateStats(ctx, func(st *Stats) error {
		st.TotalReferrals += 2
		st.Withdrawals++
		st.TotalWithdrawalAmount += 12.5
		return nil
	})
	if err != nil {
		t.Fatalf("update stats: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalReferrals != 2 || st.Withdrawals != 1 || st.TotalWithdrawalAmount != 12.5 {
		t.Fatalf("stats = %+v", st)
	}
	if st.StartDate.IsZero() {
		t.Fatalf("start date not set")
	}
}

func TestFileStoreUnreadableDocumentIsNotReplaced(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	if err := s.PutUser(ctx, &UserRecord{ID: 1, Balance: 4}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Swap the document for a directory so reads fail with something other
	// than "not exist".
	backup := path + ".bak"
	if err := os.Rename(path, backup); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sentinel := filepath.Join(path, "keep")
	if err := os.WriteFile(sentinel, []byte("x"), 0o600); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	called := false
	if _, err := s.Update(ctx, 2, func(*UserRecord, bool) error {
		called = true
		return nil
	}); err == nil {
		t.Fatalf("update over an unreadable document should fail")
	}
	if called {
		t.Fatalf("update func ran against an unreadable document")
	}
	if _, _, err := Touch(ctx, s, 3, "carol", "Carol", time.Now); err == nil {
		t.Fatalf("touch over an unreadable document should fail")
	}
	if _, err := s.ListUsers(ctx); err == nil {
		t.Fatalf("list over an unreadable document should fail")
	}
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		t.Fatalf("document path replaced: %v", err)
	}
	if _, err := os.Stat(sentinel); err != nil {
		t.Fatalf("document contents lost: %v", err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Fatalf("open of an unreadable document should fail")
	}
}

func TestFileStoreTouchUnblocksAndDecrementsCounter(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	if err := s.PutUser(ctx, &UserRecord{ID: 5, Username: "dan", FirstName: "Dan", Blocked: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutUser(ctx, &UserRecord{ID: 6, Username: "eve", FirstName: "Eve", Blocked: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.UpdateStats(ctx, func(st *Stats) error {
		st.BlockedUsers = 2
		return nil
	}); err != nil {
		t.Fatalf("stats: %v", err)
	}

	u, _, err := Touch(ctx, s, 5, "dan", "Dan", time.Now)
	if err != nil || u.Blocked {
		t.Fatalf("touch: blocked=%v err=%v", u != nil && u.Blocked, err)
	}
	st, _ := s.Stats(ctx)
	if st.BlockedUsers != 1 {
		t.Fatalf("blocked users = %d, want 1", st.BlockedUsers)
	}

	// A second touch finds nothing to unblock.
	if _, _, err := Touch(ctx, s, 5, "dan", "Dan", time.Now); err != nil {
		t.Fatalf("retouch: %v", err)
	}
	if st, _ = s.Stats(ctx); st.BlockedUsers != 1 {
		t.Fatalf("blocked users = %d after retouch", st.BlockedUsers)
	}
}
