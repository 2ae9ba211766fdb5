package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/laoqin2024/LT-panle/pkg/config"
	"github.com/laoqin2024/LT-panle/pkg/define"
	"github.com/laoqin2024/LT-panle/pkg/httpserver"
	"github.com/laoqin2024/LT-panle/pkg/secret"
	"github.com/laoqin2024/LT-panle/pkg/ssh"
	"github.com/laoqin2024/LT-panle/pkg/store"
)

var serveDaemon = cli.Command{
	Name:        "serve",
	Usage:       "run the session manager daemon",
	UsageText:   "serve [OPTIONS]",
	Description: "serve the panel-facing HTTP API until interrupted",
	Action:      serve,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    define.FlagConfig,
			Aliases: []string{"c"},
			Usage:   "path to the daemon configuration file",
			Value:   define.DefaultConfigPath,
		},
		&cli.StringFlag{
			Name:  define.FlagListen,
			Usage: "listen address, overrides the config file",
		},
	},
}

func serve(ctx context.Context, command *cli.Command) error {
	cfg, err := config.Load(command.String(define.FlagConfig))
	if err != nil {
		return err
	}
	if listen := command.String(define.FlagListen); listen != "" {
		cfg.Listen = listen
	}

	if err = cfg.Lock(); err != nil {
		return err
	}
	defer cfg.Unlock()

	st, err := store.OpenFileStore(cfg.StorePath)
	if err != nil {
		return err
	}

	api := httpserver.NewAPIServer(cfg, st, st,
		&store.StaticTokenVerifier{Token: cfg.APIToken},
		secret.NewResolver(secret.NewCipher(cfg.EncryptionKey)),
		ssh.NewFactory(ssh.WithConnectTimeout(cfg.ConnectTimeout())),
		ssh.NewRegistry(),
	)

	logrus.Infof("serving panel api on %s", cfg.Listen)
	return api.Start(ctx)
}
