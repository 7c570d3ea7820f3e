// Command earnbot runs a referral bot generated from the earn template.
package main

import (
	"context"
	"log"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botmaker/core/bootstrap"
	corecmd "github.com/m3rciful/botmaker/core/cmd"
	coreconfig "github.com/m3rciful/botmaker/core/config"
	coretelegram "github.com/m3rciful/botmaker/core/telegram"
	"github.com/m3rciful/botmaker/core/telegram/router"
	"github.com/m3rciful/botmaker/core/telegram/state"
	"github.com/m3rciful/botmaker/internal/broadcast"
	"github.com/m3rciful/botmaker/internal/earn"
	"github.com/m3rciful/botmaker/internal/withdraw"
)

type app struct {
	cfg   *coreconfig.Config
	infra *bootstrap.Result
	bot   *earn.App
}

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	cfg := a.cfg
	return coretelegram.RunOptions{
		Config:      cfg,
		Registry:    coretelegram.NewRegistry(),
		Middlewares: coretelegram.DefaultMiddlewares(cfg, onLimited),
		Build: func(ctx context.Context, rt coretelegram.Runtime) ([]coretelegram.Route, error) {
			a.bot = earn.New(earn.Options{
				Records:   a.infra.Records,
				Transport: rt.Transport,
				Sessions:  a.infra.Sessions,
				AdminID:   cfg.Telegram.AdminID,
				Earn:      cfg.Earn,
				Broadcast: cfg.Broadcast,
			})
			d := router.New(rt.Registry, a.bot.Machine(), router.Options{
				AdminID:   cfg.Telegram.AdminID,
				Transport: rt.Transport,
				Unknown:   a.bot.Fallback,
			})
			if err := d.Register(a.bot.Commands(), a.bot.Callbacks()); err != nil {
				return nil, err
			}
			return d.Routes(), nil
		},
		OnStart: func(ctx context.Context, _ coretelegram.Runtime) error {
			a.infra.StartSweeper(ctx)
			return nil
		},
		OnStop: func(context.Context, coretelegram.Runtime) error {
			if a.bot != nil {
				a.bot.Console().Shutdown()
			}
			return nil
		},
	}, nil
}

func (a *app) Close() error { return a.infra.Close() }

func onLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Too many requests, slow down."})
	}
	return nil
}

func main() {
	err := corecmd.Run(corecmd.Options{
		Name:              "earnbot",
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "configs/earnbot.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return coreconfig.Load(path)
		},
		Bootstrap: func(ctx context.Context, c corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg := c.CoreConfig()
			infra, err := bootstrap.Run(ctx, bootstrap.Options{
				Config: cfg,
				Kinds:  []func(*state.Codec){withdraw.RegisterKinds, broadcast.RegisterKinds},
			})
			if err != nil {
				return nil, err
			}
			return &app{cfg: cfg, infra: infra}, nil
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}
