package botcreate

import (
	"slices"

	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/botconfig"
)

// Kind is the draft discriminator used by session codecs.
const Kind = "botcreate"

// PendingChannel is a public channel link waiting for the owner to confirm
// adminship and choose whether joining is mandatory.
type PendingChannel struct {
	URL        string `json:"url"`
	Identifier string `json:"identifier"`
}

// Draft accumulates the answers of one creation run.
type Draft struct {
	Template       string              `json:"template"`
	Token          string              `json:"token,omitempty"`
	BotUsername    string              `json:"bot_username,omitempty"`
	BotName        string              `json:"bot_name,omitempty"`
	PaymentChannel string              `json:"payment_channel,omitempty"`
	Channels       []botconfig.Channel `json:"channels,omitempty"`
	Pending        *PendingChannel     `json:"pending,omitempty"`
	MinWithdrawal  *float64            `json:"min_withdrawal,omitempty"`
	MaxWithdrawal  *float64            `json:"max_withdrawal,omitempty"`
}

// Kind implements state.Draft.
func (d *Draft) Kind() string { return Kind }

// Clone implements state.Draft.
func (d *Draft) Clone() state.Draft {
	out := *d
	out.Channels = slices.Clone(d.Channels)
	if d.Pending != nil {
		p := *d.Pending
		out.Pending = &p
	}
	if d.MinWithdrawal != nil {
		v := *d.MinWithdrawal
		out.MinWithdrawal = &v
	}
	if d.MaxWithdrawal != nil {
		v := *d.MaxWithdrawal
		out.MaxWithdrawal = &v
	}
	return &out
}

// RegisterKinds teaches a session codec to decode creation drafts.
func RegisterKinds(c *state.Codec) {
	c.Register(Kind, func() state.Draft { return &Draft{} })
}
