package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/laoqin2024/LT-panle/pkg/config"
	"github.com/laoqin2024/LT-panle/pkg/define"
	"github.com/laoqin2024/LT-panle/pkg/secret"
)

var secretTools = cli.Command{
	Name:        "secret",
	Usage:       "credential secret helpers",
	UsageText:   "secret [command]",
	Description: "prepare secrets for the credential store",
	Commands: []*cli.Command{
		&encryptSecret,
	},
}

var encryptSecret = cli.Command{
	Name:        "encrypt",
	Usage:       "seal a secret for the credential store",
	UsageText:   "encrypt [OPTIONS] [plaintext]",
	Description: "encrypt a password or private key with the configured key and print the blob; prompts when no plaintext argument is given",
	Action:      runEncrypt,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    define.FlagConfig,
			Aliases: []string{"c"},
			Usage:   "path to the daemon configuration file",
			Value:   define.DefaultConfigPath,
		},
	},
}

func runEncrypt(ctx context.Context, command *cli.Command) error {
	cfg, err := config.Load(command.String(define.FlagConfig))
	if err != nil {
		return err
	}

	plaintext := command.Args().First()
	if plaintext == "" {
		fmt.Fprint(os.Stderr, "secret: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		plaintext = string(raw)
	}

	blob, err := secret.NewCipher(cfg.EncryptionKey).Encrypt(plaintext)
	if err != nil {
		return err
	}

	fmt.Println(blob)
	return nil
}
