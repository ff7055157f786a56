package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/create2-factory-registry/api/clients"
	"github.com/ruteri/create2-factory-registry/cmd/flags"
	"github.com/ruteri/create2-factory-registry/kms"
	"github.com/urfave/cli/v2"
)

var flagAdminServer *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-server-addr",
	Value: "http://127.0.0.1:8081",
	Usage: "factory server admin API address",
}
var flagKeyFile *cli.StringFlag = &cli.StringFlag{
	Name:  "key-file",
	Value: "shareholder.key",
	Usage: "Path to a hex secp256k1 private key",
}
var flagShareFile *cli.StringFlag = &cli.StringFlag{
	Name:  "share-file",
	Value: "deployer-share.hex",
	Usage: "Path to a hex deployer key share",
}
var flagOutDir *cli.StringFlag = &cli.StringFlag{
	Name:  "out-dir",
	Value: ".",
	Usage: "Directory to write shares to",
}

var flagShamirThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "shamir-threshold",
	Value: 2,
}

var flagShamirTotal *cli.IntFlag = &cli.IntFlag{
	Name:  "shamir-total-shares",
	Value: 3,
}

func main() {
	app := &cli.App{
		Name:           "admin client",
		Usage:          "Manage Shamir shares of the chain deployer key",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show deployer key recovery progress",
				Flags: []cli.Flag{flagAdminServer},
				Action: func(cCtx *cli.Context) error {
					status, err := clients.NewAdminClient(cCtx.String(flagAdminServer.Name), nil).GetStatus(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "generate-key",
				Usage: "generate a secp256k1 key (shareholder or deployer)",
				Flags: []cli.Flag{flagKeyFile},
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return fmt.Errorf("failed to generate key: %w", err)
					}

					if err := crypto.SaveECDSA(cCtx.String(flagKeyFile.Name), key); err != nil {
						return err
					}
					fmt.Println(crypto.PubkeyToAddress(key.PublicKey).Hex())
					return nil
				},
			},
			{
				Name:  "split-key",
				Usage: "split a deployer key into Shamir shares",
				Flags: []cli.Flag{flagKeyFile, flagOutDir, flagShamirThreshold, flagShamirTotal},
				Action: func(cCtx *cli.Context) error {
					key, err := flags.LoadPrivateKey("@" + cCtx.String(flagKeyFile.Name))
					if err != nil {
						return err
					}

					shares, err := kms.SplitKey(key, cCtx.Int(flagShamirTotal.Name), cCtx.Int(flagShamirThreshold.Name))
					if err != nil {
						return err
					}

					outDir := cCtx.String(flagOutDir.Name)
					for i, share := range shares {
						path := filepath.Join(outDir, fmt.Sprintf("deployer-share-%d.hex", i))
						if err := os.WriteFile(path, []byte(hexutil.Encode(share)), 0600); err != nil {
							return fmt.Errorf("failed to write share: %w", err)
						}
						fmt.Println(path)
					}
					return nil
				},
			},
			{
				Name:  "submit-share",
				Usage: "submit a deployer key share to a recovering server",
				Flags: []cli.Flag{flagAdminServer, flagKeyFile, flagShareFile},
				Action: func(cCtx *cli.Context) error {
					key, err := flags.LoadPrivateKey("@" + cCtx.String(flagKeyFile.Name))
					if err != nil {
						return err
					}

					shareHex, err := os.ReadFile(cCtx.String(flagShareFile.Name))
					if err != nil {
						return err
					}
					share, err := hexutil.Decode(strings.TrimSpace(string(shareHex)))
					if err != nil {
						return fmt.Errorf("invalid share: %w", err)
					}

					status, err := clients.NewAdminClient(cCtx.String(flagAdminServer.Name), key).SubmitShare(cCtx.Context, share)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
