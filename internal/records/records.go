// Package records persists user accounts, their bots and withdrawals.
package records

import (
	"slices"
	"strings"
	"time"
)

// BotStatus is the lifecycle stage of a requested bot.
type BotStatus string

// Bot lifecycle. Pending, Approved and Active are live; Declined and
// Cancelled are terminal and kept for history.
const (
	BotPending   BotStatus = "Pending"
	BotApproved  BotStatus = "Approved"
	BotActive    BotStatus = "Active"
	BotDeclined  BotStatus = "Declined"
	BotCancelled BotStatus = "Cancelled"
)

// Live reports whether the bot counts towards the per-user cap.
func (s BotStatus) Live() bool {
	switch s {
	case BotPending, BotApproved, BotActive:
		return true
	}
	return false
}

// CanBecome reports whether an admin may move a bot from s to next.
func (s BotStatus) CanBecome(next BotStatus) bool {
	switch s {
	case BotPending:
		return next == BotApproved || next == BotDeclined
	case BotApproved:
		return next == BotActive || next == BotCancelled
	}
	return false
}

// WithdrawalPending is the only status the bots assign.
const WithdrawalPending = "pending"

// UnknownName fills profile fields Telegram left empty.
const UnknownName = "Unknown"

// BotEntry is one bot requested through the creation wizard.
type BotEntry struct {
	ID                  string    `json:"id"`
	BotName             string    `json:"bot_name"`
	BotUsername         string    `json:"bot_username"`
	Template            string    `json:"template,omitempty"`
	Status              BotStatus `json:"status"`
	CreationRequestDate time.Time `json:"creation_request_date"`
	ConfigDetails       string    `json:"config_details"`
}

// WithdrawalRequest is one payout a user asked for.
type WithdrawalRequest struct {
	ID            string    `json:"id"`
	Amount        float64   `json:"amount"`
	AccountNumber string    `json:"account_number"`
	BankName      string    `json:"bank_name"`
	Date          time.Time `json:"date"`
	Status        string    `json:"status"`
}

// UserRecord is everything stored about one Telegram user. ID is the map
// key in the document and is not repeated inside the record.
type UserRecord struct {
	ID               int64     `json:"-"`
	Username         string    `json:"username"`
	FirstName        string    `json:"first_name"`
	RegistrationDate time.Time `json:"registration_date"`

	Bots []BotEntry `json:"bots,omitempty"`

	Balance     float64             `json:"balance"`
	Referrals   []int64             `json:"referrals,omitempty"`
	ReferredBy  int64               `json:"referred_by,omitempty"`
	Withdrawals []WithdrawalRequest `json:"withdrawals,omitempty"`

	// Blocked is set when a broadcast finds the user has blocked the bot.
	Blocked bool `json:"blocked,omitempty"`
}

// NewUser returns a record registered at now.
func NewUser(id int64, username, firstName string, now time.Time) *UserRecord {
	u := &UserRecord{ID: id, RegistrationDate: now}
	u.SetProfile(username, firstName)
	return u
}

// SetProfile stores the display fields and reports whether they changed.
// Empty values are stored as UnknownName.
func (u *UserRecord) SetProfile(username, firstName string) bool {
	username = orUnknown(username)
	firstName = orUnknown(firstName)
	if u.Username == username && u.FirstName == firstName {
		return false
	}
	u.Username = username
	u.FirstName = firstName
	return true
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return UnknownName
	}
	return s
}

// LiveBots counts bots that are not declined or cancelled.
func (u *UserRecord) LiveBots() int {
	n := 0
	for _, b := range u.Bots {
		if b.Status.Live() {
			n++
		}
	}
	return n
}

// BotIndex returns the index of the bot with the given @username, or -1.
// When several entries share a username the newest wins.
func (u *UserRecord) BotIndex(username string) int {
	for i := len(u.Bots) - 1; i >= 0; i-- {
		if strings.EqualFold(u.Bots[i].BotUsername, username) {
			return i
		}
	}
	return -1
}

// RemoveBot deletes the newest bot with the given username.
func (u *UserRecord) RemoveBot(username string) bool {
	i := u.BotIndex(username)
	if i < 0 {
		return false
	}
	u.Bots = slices.Delete(u.Bots, i, i+1)
	return true
}

// HasReferral reports whether id was already credited to u.
func (u *UserRecord) HasReferral(id int64) bool {
	return slices.Contains(u.Referrals, id)
}

// Clone returns a deep copy.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	out := *u
	out.Bots = slices.Clone(u.Bots)
	out.Referrals = slices.Clone(u.Referrals)
	out.Withdrawals = slices.Clone(u.Withdrawals)
	return &out
}

// Stats are the counters of one bot deployment.
type Stats struct {
	StartDate             time.Time `json:"start_date"`
	TotalReferrals        int       `json:"total_referrals"`
	Withdrawals           int       `json:"withdrawals"`
	TotalWithdrawalAmount float64   `json:"total_withdrawal_amount"`
	BlockedUsers          int       `json:"blocked_users"`
}
