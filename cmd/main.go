package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.Command{
		Name:                      os.Args[0],
		Usage:                     "ssh session manager for the server panel",
		UsageText:                 os.Args[0] + " [command] [flags]",
		Description:               "terminals, command execution and fact collection over pooled ssh connections",
		Before:                    earlyStage,
		DisableSliceFlagSeparator: true,
	}

	app.Commands = []*cli.Command{
		&serveDaemon,
		&attachTerminal,
		&genKeyPair,
		&secretTools,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func earlyStage(ctx context.Context, command *cli.Command) (context.Context, error) {
	setLogrus()
	ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)

	return ctx, nil
}

func setLogrus() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(logrus.InfoLevel)
}
