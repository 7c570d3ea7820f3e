package withdraw

import "github.com/m3rciful/botmaker/core/telegram/state"

// Kind is the draft discriminator used by session codecs.
const Kind = "withdraw"

// Draft holds a withdrawal request being filled in.
type Draft struct {
	Amount  *float64 `json:"amount,omitempty"`
	Account string   `json:"account,omitempty"`
}

// Kind implements state.Draft.
func (d *Draft) Kind() string { return Kind }

// Clone implements state.Draft.
func (d *Draft) Clone() state.Draft {
	out := *d
	if d.Amount != nil {
		v := *d.Amount
		out.Amount = &v
	}
	return &out
}

// RegisterKinds teaches a session codec to decode withdrawal drafts.
func RegisterKinds(c *state.Codec) {
	c.Register(Kind, func() state.Draft { return &Draft{} })
}
