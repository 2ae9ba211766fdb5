package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/keygen"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/laoqin2024/LT-panle/pkg/define"
	"github.com/laoqin2024/LT-panle/pkg/secret"
)

var genKeyPair = cli.Command{
	Name:        "keygen",
	Usage:       "generate an ssh key pair for a key credential",
	UsageText:   "keygen --output PATH [OPTIONS]",
	Description: "write a key pair to disk; authorize the public key on the target host and point the credential at the private key",
	Action:      runKeygen,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     define.FlagOutput,
			Aliases:  []string{"o"},
			Usage:    "private key path to write",
			Required: true,
		},
		&cli.StringFlag{
			Name:  define.FlagKeyType,
			Usage: "key type: ed25519, ecdsa or rsa",
			Value: string(keygen.Ed25519),
		},
		&cli.StringFlag{
			Name:  define.FlagPassphrase,
			Usage: "optional passphrase for the private key",
		},
	},
}

func runKeygen(ctx context.Context, command *cli.Command) error {
	opts := secret.DefaultKeyGenOptions()
	opts.Passphrase = command.String(define.FlagPassphrase)

	switch kt := keygen.KeyType(command.String(define.FlagKeyType)); kt {
	case keygen.Ed25519, keygen.ECDSA, keygen.RSA:
		opts.KeyType = kt
	default:
		return errors.Errorf("unsupported key type %q", kt)
	}

	kp, err := secret.GenerateKeyPair(command.String(define.FlagOutput), opts)
	if err != nil {
		return err
	}

	fmt.Printf("private key: %s\n", kp.PrivateKeyPath())
	fmt.Printf("public key:  %s\n", kp.PublicKeyPath())
	return nil
}
