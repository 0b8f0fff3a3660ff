package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/backend/onnx"
	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/logger"
)

var (
	dataDir       string
	accelerator   string
	cpuThreads    int64
	contextLength int64
	ortLibrary    string
	probeWorkers  int64
	settingsFile  string
	serverAddress string
	logLevel      string
	logFormat     string
	debug         bool
)

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "directory holding imported models, tokenizers and the catalog (default $" + envHome + ")",
			Destination: &dataDir,
		},
		&cli.StringFlag{
			Name:        "settings-file",
			Usage:       "generation settings file (.yaml, .json or .toml)",
			Destination: &settingsFile,
		},
	}
}

func runtimeFlags() []cli.Flag {
	return append(dataFlags(),
		&cli.StringFlag{
			Name:        "accelerator",
			Aliases:     []string{"a"},
			Usage:       "preferred accelerator (npu, gpu, cpu); falls back to cpu",
			Value:       string(backend.DefaultKind),
			Destination: &accelerator,
		},
		&cli.Int64Flag{
			Name:        "cpu-threads",
			Usage:       "intra-op threads for cpu execution",
			Value:       backend.DefaultThreads,
			Destination: &cpuThreads,
		},
		&cli.Int64Flag{
			Name:        "context-length",
			Aliases:     []string{"ctx"},
			Usage:       "token buffer length for models with a dynamic sequence dimension",
			Value:       onnx.DefaultContextLength,
			Destination: &contextLength,
		},
		&cli.StringFlag{
			Name:        "onnxruntime-library",
			Usage:       "path to the onnxruntime shared library (default $" + onnx.LibraryEnv + ")",
			Destination: &ortLibrary,
		},
		&cli.Int64Flag{
			Name:        "probe-workers",
			Usage:       "models probed concurrently",
			Value:       catalog.DefaultWorkers,
			Destination: &probeWorkers,
		},
	)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// prepare applies the config file to unset flags and installs the logger.
func prepare(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return ctx, err
	}
	applyConfig(cmd, cfg)
	log, err := logger.FromFlags(os.Stderr, logLevel, logFormat, debug)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
