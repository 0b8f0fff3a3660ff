package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/model"
)

func modelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "models",
		Aliases: []string{"model", "m"},
		Usage:   "Manage the model library",
		Commands: []*cli.Command{
			listModelsCmd(),
			importModelCmd(),
			pairTokenizerCmd(),
			probeModelCmd(),
			removeModelCmd(),
		},
	}
}

func modelCommandFlags(extra ...cli.Flag) []cli.Flag {
	flags := append(runtimeFlags(), loggingFlags()...)
	return append(flags, extra...)
}

func jsonFlag(dest *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "json",
		Usage:       "print machine readable JSON",
		Destination: dest,
	}
}

func waitFlag(dest *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "wait",
		Usage:       "wait for the compatibility check to finish",
		Value:       true,
		Destination: dest,
	}
}

// withStack opens the library for the duration of fn.
func withStack(ctx context.Context, fn func(*stack) error) error {
	st, err := openStack(ctx, false)
	if err != nil {
		return err
	}
	err = fn(st)
	if cerr := st.Close(); cerr != nil {
		logger.FromContext(ctx).Warn("close library", "error", cerr)
	}
	return err
}

func listModelsCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List imported models and their compatibility",
		Before:  prepare,
		Flags:   modelCommandFlags(jsonFlag(&asJSON)),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStack(ctx, func(st *stack) error {
				models := st.catalog.List()
				if asJSON {
					return printJSON(os.Stdout, models)
				}
				if len(models) == 0 {
					logger.FromContext(ctx).Info("no models imported", "path", st.catalog.ModelsDir())
					return nil
				}
				fmt.Printf("Models in %s:\n\n", st.catalog.ModelsDir())
				printModels(os.Stdout, models)
				fmt.Printf("\n%d model(s)\n", len(models))
				return nil
			})
		},
	}
}

func importModelCmd() *cli.Command {
	var (
		name   string
		wait   bool
		asJSON bool
	)
	return &cli.Command{
		Name:      "import",
		Usage:     "Copy a model file into the library and check its compatibility",
		ArgsUsage: "<model.onnx>",
		Before:    prepare,
		Flags: modelCommandFlags(
			&cli.StringFlag{
				Name:        "name",
				Usage:       "file name in the library (defaults to the source file name)",
				Destination: &name,
			},
			waitFlag(&wait),
			jsonFlag(&asJSON),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			src := strings.TrimSpace(cmd.Args().First())
			if src == "" {
				return cli.Exit("error: model file is required", 1)
			}
			return withStack(ctx, func(st *stack) error {
				d, err := st.catalog.Import(src, name)
				if err != nil {
					return err
				}
				if wait {
					d = settle(ctx, st.catalog, d)
				}
				return printModel(asJSON, d)
			})
		},
	}
}

func pairTokenizerCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:      "pair",
		Usage:     "Pair a tokenizer file with a model (once per model)",
		ArgsUsage: "<model> <tokenizer>",
		Before:    prepare,
		Flags:     modelCommandFlags(jsonFlag(&asJSON)),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return cli.Exit("error: expected a model and a tokenizer file", 1)
			}
			return withStack(ctx, func(st *stack) error {
				d, err := st.catalog.Find(cmd.Args().Get(0))
				if err != nil {
					return err
				}
				d, err = st.catalog.PairTokenizer(d.ID, cmd.Args().Get(1))
				if err != nil {
					return err
				}
				return printModel(asJSON, d)
			})
		},
	}
}

func probeModelCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:      "probe",
		Usage:     "Check a model's compatibility again",
		ArgsUsage: "<model>",
		Before:    prepare,
		Flags:     modelCommandFlags(jsonFlag(&asJSON)),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ref := strings.TrimSpace(cmd.Args().First())
			if ref == "" {
				return cli.Exit("error: model is required", 1)
			}
			return withStack(ctx, func(st *stack) error {
				d, err := st.catalog.Find(ref)
				if err != nil {
					return err
				}
				if d, err = st.catalog.Reprobe(d.ID); err != nil {
					return err
				}
				return printModel(asJSON, settle(ctx, st.catalog, d))
			})
		},
	}
}

func removeModelCmd() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Aliases:   []string{"remove"},
		Usage:     "Delete a model and its tokenizer from the library",
		ArgsUsage: "<model>...",
		Before:    prepare,
		Flags:     modelCommandFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return cli.Exit("error: model is required", 1)
			}
			return withStack(ctx, func(st *stack) error {
				for _, ref := range cmd.Args().Slice() {
					d, err := st.catalog.Find(ref)
					if err != nil {
						return err
					}
					if err := st.catalog.Remove(d.ID); err != nil {
						return err
					}
					fmt.Printf("removed %s\n", d.Name)
				}
				return nil
			})
		},
	}
}

// settle waits for d's probe and returns its latest descriptor. An
// interrupted wait returns d as last seen.
func settle(ctx context.Context, c *catalog.Catalog, d model.Descriptor) model.Descriptor {
	c.WaitSettled(ctx.Done())
	if latest, err := c.Get(d.ID); err == nil {
		return latest
	}
	return d
}

func printModel(asJSON bool, d model.Descriptor) error {
	if asJSON {
		return printJSON(os.Stdout, d)
	}
	printModels(os.Stdout, []model.Descriptor{d})
	if d.Detail != "" {
		fmt.Printf("  %s\n", d.Detail)
	}
	return nil
}

func printModels(w io.Writer, models []model.Descriptor) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  NAME\tSIZE\tSTATUS\tTOKENIZER\tID")
	for _, d := range models {
		tok := "-"
		if d.HasTokenizer() {
			tok = "paired"
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", d.Name, formatModelSize(d.SizeBytes), d.Compatibility, tok, d.ID)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatModelSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
