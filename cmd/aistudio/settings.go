package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/model"
	"github.com/samcharles93/aistudio/internal/settings"
)

func settingsCmd() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change the generation settings new chats start with",
		Commands: []*cli.Command{
			showSettingsCmd(),
			setSettingsCmd(),
			resetSettingsCmd(),
		},
	}
}

func openSettings() (*settings.Store, error) {
	dir, err := resolveDataDir(dataDir)
	if err != nil {
		return nil, err
	}
	return settings.Open(resolveSettingsPath(dir, settingsFile))
}

func showSettingsCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:   "show",
		Usage:  "Print the stored settings",
		Before: prepare,
		Flags:  append(append(dataFlags(), loggingFlags()...), jsonFlag(&asJSON)),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openSettings()
			if err != nil {
				return err
			}
			return printSettings(asJSON, store.Path(), store.Get())
		},
	}
}

func setSettingsCmd() *cli.Command {
	var (
		temperature  float64
		topK         int64
		maxNewTokens int64
		asJSON       bool
	)
	return &cli.Command{
		Name:   "set",
		Usage:  "Change stored settings; values are clamped to their ranges",
		Before: prepare,
		Flags: append(append(dataFlags(), loggingFlags()...),
			&cli.Float64Flag{
				Name:        "temperature",
				Aliases:     []string{"temp", "t"},
				Usage:       fmt.Sprintf("sampling temperature (%g-%g)", model.MinTemperature, model.MaxTemperature),
				Destination: &temperature,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Usage:       fmt.Sprintf("top-k candidates (%d-%d)", model.MinTopK, model.MaxTopK),
				Destination: &topK,
			},
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Aliases:     []string{"n"},
				Usage:       fmt.Sprintf("generation budget in tokens (%d-%d)", model.MinMaxNewTokens, model.MaxMaxNewTokens),
				Destination: &maxNewTokens,
			},
			jsonFlag(&asJSON),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var o inference.SettingsOverride
			if cmd.IsSet("temperature") {
				o.Temperature = &temperature
			}
			if cmd.IsSet("top-k") {
				k := int(topK)
				o.TopK = &k
			}
			if cmd.IsSet("max-new-tokens") {
				n := int(maxNewTokens)
				o.MaxNewTokens = &n
			}
			if o.Empty() {
				return cli.Exit("error: set at least one of --temperature, --top-k, --max-new-tokens", 1)
			}
			store, err := openSettings()
			if err != nil {
				return err
			}
			s, err := store.Update(o)
			if err != nil {
				return err
			}
			return printSettings(asJSON, store.Path(), s)
		},
	}
}

func resetSettingsCmd() *cli.Command {
	return &cli.Command{
		Name:   "reset",
		Usage:  "Restore the default settings",
		Before: prepare,
		Flags:  append(dataFlags(), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openSettings()
			if err != nil {
				return err
			}
			s, err := store.Reset()
			if err != nil {
				return err
			}
			return printSettings(false, store.Path(), s)
		},
	}
}

func printSettings(asJSON bool, path string, s model.Settings) error {
	if asJSON {
		return printJSON(os.Stdout, s)
	}
	fmt.Printf("# %s\n", path)
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()
	return enc.Encode(s)
}
