package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"postbot/internal/core"
	"postbot/internal/editor"
	"postbot/pkg/logx"
)

type options struct {
	Config  string `short:"c" long:"config" env:"POSTBOT_CONFIG" default:"./config.yaml" description:"path to config file (yaml or json)"`
	EnvFile string `long:"env-file" default:".env" description:"dotenv file loaded before the config"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(2)
	}

	// Optional; secrets like TELEGRAM_BOT_TOKEN usually live here.
	_ = godotenv.Load(opts.EnvFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := core.NewApp(opts.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	pub := editor.NewPublisher(app.Adapter(), app.Journal(),
		app.Logger().With(logx.String("comp", "publisher")))
	ed := editor.New(app.Scheduler(), pub, app.Journal(),
		app.Logger().With(logx.String("comp", "editor")))
	ed.Register(app.Router())

	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := app.Wait(ctx); err != nil {
		app.Logger().Error("runtime failure", logx.Err(err))
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && !strings.Contains(err.Error(), "context canceled") {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
}
