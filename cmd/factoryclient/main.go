package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/create2-factory-registry/api"
	"github.com/ruteri/create2-factory-registry/api/clients"
	"github.com/ruteri/create2-factory-registry/cmd/flags"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/urfave/cli/v2"
)

var flagInitCode = &cli.StringFlag{
	Name:     "init-code",
	Required: true,
	Usage:    "0x-hex init code, or @file containing it",
}

var flagSalt = &cli.StringFlag{
	Name:  "salt",
	Usage: "32-byte hex salt (random when omitted on create)",
}

var flagIdentity = &cli.StringFlag{
	Name:     "identity",
	Required: true,
	Usage:    "identity the new instance must report",
}

func main() {
	app := &cli.App{
		Name:  "factory-client",
		Usage: "Query and deploy through a factory registry server",
		Flags: []cli.Flag{
			flags.ServerFlag,
			flags.DNSResolverFlag,
			flags.KeyFlag,
		},
		Commands: []*cli.Command{
			{
				Name:  "predict",
				Usage: "compute the address a deployment would get",
				Flags: []cli.Flag{flagInitCode, flagSalt},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx, false)
					if err != nil {
						return err
					}
					initCode, err := readInitCode(cCtx.String(flagInitCode.Name))
					if err != nil {
						return err
					}
					salt, err := parseSalt(cCtx.String(flagSalt.Name), false)
					if err != nil {
						return err
					}

					address, err := client.Predict(cCtx.Context, salt, initCode)
					if err != nil {
						return err
					}
					return printJSON(api.AddressResponse{Address: address})
				},
			},
			{
				Name:  "create",
				Usage: "deploy and register an instance",
				Flags: []cli.Flag{
					flagIdentity,
					flagInitCode,
					flagSalt,
					&cli.StringFlag{Name: "value", Usage: "wei forwarded to the constructor, decimal or 0x-hex"},
					&cli.Uint64Flag{Name: "gas-limit", Usage: "construction gas limit"},
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx, true)
					if err != nil {
						return err
					}
					identity, err := parseAddress(cCtx.String(flagIdentity.Name))
					if err != nil {
						return err
					}
					initCode, err := readInitCode(cCtx.String(flagInitCode.Name))
					if err != nil {
						return err
					}
					salt, err := parseSalt(cCtx.String(flagSalt.Name), true)
					if err != nil {
						return err
					}

					resp, err := client.Create(cCtx.Context, api.CreateRequest{
						Identity: identity,
						InitCode: initCode,
						Salt:     salt,
						Value:    cCtx.String("value"),
						GasLimit: cCtx.Uint64("gas-limit"),
					})
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "length",
				Usage: "number of registered instances",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx, false)
					if err != nil {
						return err
					}
					length, err := client.Length(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(api.LengthResponse{Length: length})
				},
			},
			{
				Name:  "last",
				Usage: "most recently registered instance",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx, false)
					if err != nil {
						return err
					}
					address, err := client.Last(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(api.AddressResponse{Address: address})
				},
			},
			{
				Name:      "at",
				Usage:     "instance at an index",
				ArgsUsage: "<index>",
				Action: func(cCtx *cli.Context) error {
					index, err := strconv.ParseUint(cCtx.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid index: %w", err)
					}
					client, err := newClient(cCtx, false)
					if err != nil {
						return err
					}
					address, err := client.At(cCtx.Context, index)
					if err != nil {
						return err
					}
					return printJSON(api.AddressResponse{Address: address})
				},
			},
			{
				Name:  "list",
				Usage: "all registered instances in order",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx, false)
					if err != nil {
						return err
					}
					addresses, err := client.List(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(api.ListResponse{Addresses: addresses})
				},
			},
			{
				Name:      "lookup",
				Usage:     "instance registered for an identity",
				ArgsUsage: "<identity>",
				Action: func(cCtx *cli.Context) error {
					identity, err := parseAddress(cCtx.Args().First())
					if err != nil {
						return err
					}
					client, err := newClient(cCtx, false)
					if err != nil {
						return err
					}
					address, found, err := client.Lookup(cCtx.Context, identity)
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("no instance registered for %s", identity.Hex())
					}
					return printJSON(api.IdentityResponse{Identity: identity, Address: address})
				},
			},
			{
				Name:  "info",
				Usage: "factory address, owner and length",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx, false)
					if err != nil {
						return err
					}
					info, err := client.FactoryInfo(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(info)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context, signing bool) (*clients.FactoryClient, error) {
	server, err := clients.ResolveServerURL(cCtx.Context, cCtx.String(flags.ServerFlag.Name), cCtx.String(flags.DNSResolverFlag.Name))
	if err != nil {
		return nil, err
	}

	if !signing {
		return clients.NewFactoryClient(server, nil), nil
	}

	keyValue := cCtx.String(flags.KeyFlag.Name)
	if keyValue == "" {
		return nil, errors.New("--key is required to sign deployments")
	}
	key, err := flags.LoadPrivateKey(keyValue)
	if err != nil {
		return nil, err
	}
	return clients.NewFactoryClient(server, key), nil
}

func readInitCode(value string) ([]byte, error) {
	if path, ok := strings.CutPrefix(value, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read init code: %w", err)
		}
		value = strings.TrimSpace(string(data))
	}
	if !strings.HasPrefix(value, "0x") {
		value = "0x" + value
	}

	initCode, err := hexutil.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("invalid init code: %w", err)
	}
	return initCode, nil
}

func parseSalt(value string, randomIfEmpty bool) (interfaces.Salt, error) {
	if value == "" {
		if randomIfEmpty {
			return interfaces.RandomSalt()
		}
		return interfaces.Salt{}, nil
	}
	return interfaces.NewSaltFromHex(value)
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", value)
	}
	return common.HexToAddress(value), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
