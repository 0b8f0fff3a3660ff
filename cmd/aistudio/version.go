package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/backend/onnx"
	"github.com/samcharles93/aistudio/internal/version"
)

func versionCmd() *cli.Command {
	var showRuntime bool
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "runtime",
				Usage:       "also load onnxruntime and report its version and accelerators",
				Destination: &showRuntime,
			},
			&cli.StringFlag{
				Name:        "onnxruntime-library",
				Usage:       "path to the onnxruntime shared library",
				Destination: &ortLibrary,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			if info.GoVersion != "" {
				fmt.Printf("go:         %s\n", info.GoVersion)
			}
			if !showRuntime {
				return nil
			}
			engine := onnx.New(onnx.Config{LibraryPath: ortLibrary})
			defer func() { _ = onnx.Shutdown() }()
			if err := engine.Init(); err != nil {
				return err
			}
			fmt.Printf("onnxruntime: %s\n", engine.Version())
			fmt.Printf("accelerators: %s\n", backend.AvailableString(engine))
			return nil
		},
	}
}
