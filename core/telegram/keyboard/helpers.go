// Package keyboard models inline keyboards independently of telebot so flows
// can build and inspect them in tests.
package keyboard

import tele "gopkg.in/telebot.v4"

// Button is one inline button. URL buttons ignore Unique and Data.
type Button struct {
	Text   string
	Unique string
	Data   string
	URL    string
}

// Inline is an inline keyboard as rows of buttons.
type Inline [][]Button

// Callback returns a data button.
func Callback(text, unique string, data ...string) Button {
	b := Button{Text: text, Unique: unique}
	if len(data) > 0 {
		b.Data = data[0]
	}
	return b
}

// Link returns a URL button.
func Link(text, url string) Button {
	return Button{Text: text, URL: url}
}

// Rows places each button on its own row.
func Rows(buttons ...Button) Inline {
	out := make(Inline, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, []Button{b})
	}
	return out
}

// NPerRow splits buttons into rows with up to n buttons each.
func NPerRow(n int, buttons ...Button) Inline {
	if n <= 1 {
		return Rows(buttons...)
	}
	var rows Inline
	for i := 0; i < len(buttons); i += n {
		end := min(i+n, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return rows
}

// Find returns the first button with the given unique.
func (k Inline) Find(unique string) (Button, bool) {
	for _, row := range k {
		for _, b := range row {
			if b.Unique == unique {
				return b, true
			}
		}
	}
	return Button{}, false
}

// Markup converts the keyboard to telebot's reply markup. Nil for an empty keyboard.
func (k Inline) Markup() *tele.ReplyMarkup {
	if len(k) == 0 {
		return nil
	}
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(k))
	for _, row := range k {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			var btn tele.Btn
			if b.URL != "" {
				btn = markup.URL(b.Text, b.URL)
			} else {
				btn = markup.Data(b.Text, b.Unique, b.Data)
			}
			r = append(r, *btn.Inline())
		}
		inline = append(inline, r)
	}
	markup.InlineKeyboard = inline
	return markup
}

// ForceReply returns a markup that forces the user to reply.
func ForceReply() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{ForceReply: true}
}

// RemoveKeyboard returns a markup that hides the keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
