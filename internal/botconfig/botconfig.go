// Package botconfig is the configuration artifact the creation wizard
// produces for a requested earn bot, and its rendering into a deployable
// config file.
package botconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Channel is one must-join link. Check is only ever true for public
// Telegram channels the owner marked as mandatory.
type Channel struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Check bool   `yaml:"check"`
}

// Task is one task link shown by the earn bot.
type Task struct {
	Name   string  `yaml:"name"`
	URL    string  `yaml:"url"`
	Reward float64 `yaml:"reward"`
}

// Config is everything a generated earn bot needs.
type Config struct {
	BotToken          string    `yaml:"bot_token"`
	AdminID           int64     `yaml:"admin_id"`
	ReferralReward    float64   `yaml:"referral_reward"`
	MinWithdrawal     float64   `yaml:"min_withdrawal"`
	MaxWithdrawal     float64   `yaml:"max_withdrawal"`
	WithdrawalEnabled bool      `yaml:"withdrawal_enabled"`
	MustJoinChannels  []Channel `yaml:"must_join_channels"`
	Tasks             []Task    `yaml:"tasks"`
	PaymentChannel    string    `yaml:"payment_channel"`
	BotUsername       string    `yaml:"bot_username"`
	BotName           string    `yaml:"bot_name"`
}

// DefaultTasks is the task list every generated bot starts with.
func DefaultTasks() []Task {
	return []Task{{Name: "Task 1", URL: "https://t.me/tenocoofficial", Reward: 100}}
}

// Validate checks the fields a deployable bot cannot run without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BotToken) == "" {
		errs = append(errs, errors.New("bot_token is empty"))
	}
	if !strings.HasPrefix(c.BotUsername, "@") {
		errs = append(errs, fmt.Errorf("bot_username %q must start with @", c.BotUsername))
	}
	if strings.TrimSpace(c.BotName) == "" {
		errs = append(errs, errors.New("bot_name is empty"))
	}
	if c.MinWithdrawal < 0 || c.MaxWithdrawal < 0 || c.ReferralReward < 0 {
		errs = append(errs, errors.New("amounts must be >= 0"))
	}
	if c.MaxWithdrawal < c.MinWithdrawal {
		errs = append(errs, fmt.Errorf("max_withdrawal %v is below min_withdrawal %v", c.MaxWithdrawal, c.MinWithdrawal))
	}
	return errors.Join(errs...)
}

// Marshal encodes c as YAML under a comment naming the requesting user.
func Marshal(c Config, requester int64) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Bot config by botmaker for user %d | bot %s\n", requester, c.BotUsername)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode bot config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode bot config: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes a document produced by Marshal. Unknown fields are errors.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse bot config: %w", err)
	}
	return c, nil
}

// ParseFile reads and decodes a config artifact.
func ParseFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read bot config: %w", err)
	}
	return Parse(data)
}

var funcs = template.FuncMap{
	// yaml renders a scalar as an inline YAML value, quoting when needed.
	"yaml": func(v any) (string, error) {
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(string(out), "\n"), nil
	},
	"trimAt": func(s string) string { return strings.TrimPrefix(s, "@") },
}

// NewTemplate parses a deploy template. Placeholders are named fields of
// Config such as {{ .BotToken }}.
func NewTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

// LoadTemplate reads and parses a deploy template file.
func LoadTemplate(path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return NewTemplate(path, string(data))
}

// Render validates c and executes t with it.
func Render(w io.Writer, t *template.Template, c Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid bot config: %w", err)
	}
	if err := t.Execute(w, c); err != nil {
		return fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return nil
}
