package records

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by GetUser for unknown users.
	ErrNotFound = errors.New("records: user not found")
	// ErrUnchanged may be returned from an update func to skip the write.
	ErrUnchanged = errors.New("records: unchanged")
	// ErrConflict means a compare-and-swap update kept losing to other writers.
	ErrConflict = errors.New("records: concurrent update conflict")
)

// UpdateFunc mutates u in place. found is false when the user did not exist
// yet; u then carries only its ID and the caller decides what a new record
// looks like. Returning ErrUnchanged skips the write; any other error
// aborts the update and is returned as is.
type UpdateFunc func(u *UserRecord, found bool) error

// Store persists user records and bot statistics. Records passed in and
// returned are copies.
type Store interface {
	GetUser(ctx context.Context, id int64) (*UserRecord, error)
	PutUser(ctx context.Context, u *UserRecord) error
	// ListUsers returns every user ordered by ID.
	ListUsers(ctx context.Context) ([]*UserRecord, error)
	// Update runs a read-modify-write of one user atomically and returns
	// the stored result.
	Update(ctx context.Context, id int64, fn UpdateFunc) (*UserRecord, error)
	Stats(ctx context.Context) (Stats, error)
	UpdateStats(ctx context.Context, fn func(s *Stats) error) error
	Close() error
}

// Touch registers the user on first contact or refreshes the profile
// fields. The registration date is set once and never changed.
// The blocked flag is cleared and the blocked counter follows it.
func Touch(ctx context.Context, st Store, id int64, username, firstName string, now func() time.Time) (*UserRecord, bool, error) {
	created, unblocked := false, false
	u, err := st.Update(ctx, id, func(u *UserRecord, found bool) error {
		created, unblocked = false, false
		if !found {
			*u = *NewUser(id, username, firstName, now())
			created = true
			return nil
		}
		changed := u.SetProfile(username, firstName)
		// A user who writes to the bot has evidently unblocked it.
		if u.Blocked {
			u.Blocked = false
			unblocked = true
			changed = true
		}
		if !changed {
			return ErrUnchanged
		}
		return nil
	})
	if err != nil || !unblocked {
		return u, created, err
	}
	err = st.UpdateStats(ctx, func(s *Stats) error {
		if s.BlockedUsers <= 0 {
			return ErrUnchanged
		}
		s.BlockedUsers--
		return nil
	})
	return u, created, err
}
