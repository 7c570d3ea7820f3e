package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m3rciful/botmaker/core/config"
	"github.com/m3rciful/botmaker/internal/botconfig"
)

func writeArtifact(t *testing.T, dir string) string {
	t.Helper()
	data, err := botconfig.Marshal(botconfig.Config{
		BotToken:          "123:abc",
		AdminID:           42,
		ReferralReward:    0.5,
		MinWithdrawal:     1,
		MaxWithdrawal:     10,
		WithdrawalEnabled: true,
		MustJoinChannels:  []botconfig.Channel{{Name: "News", URL: "https://t.me/news", Check: true}},
		Tasks:             botconfig.DefaultTasks(),
		PaymentChannel:    "https://t.me/payouts",
		BotUsername:       "@my_earn_bot",
		BotName:           "My Earn",
	}, 42)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "request.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestRenderLoadsAsEarnConfig(t *testing.T) {
	dir := t.TempDir()
	in := writeArtifact(t, dir)
	out := filepath.Join(dir, "bot.yaml")

	tmpl := filepath.Join("..", "..", "templates", "earnbot.yaml.tmpl")
	if err := run([]string{"-in", in, "-template", tmpl, "-out", out}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	cfg, err := config.Load(out)
	if err != nil {
		t.Fatalf("load rendered config: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.AdminID != 42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	e := cfg.Earn
	if e.BotUsername != "@my_earn_bot" || e.ReferralReward != 0.5 || len(e.MustJoinChannels) != 1 || !e.MustJoinChannels[0].Check {
		t.Fatalf("earn = %+v", e)
	}
	if cfg.Storage.Path != "data/my_earn_bot.json" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
}

func TestRenderToStdout(t *testing.T) {
	dir := t.TempDir()
	in := writeArtifact(t, dir)
	var stdout bytes.Buffer
	tmpl := filepath.Join("..", "..", "templates", "earnbot.yaml.tmpl")
	if err := run([]string{"-in", in, "-template", tmpl}, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "bot_name: My Earn") {
		t.Fatalf("output:\n%s", stdout.String())
	}
}

func TestRunRequiresInput(t *testing.T) {
	if err := run(nil, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without -in")
	}
}
