package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/chat"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/model"
)

type turnOptions struct {
	accelerator backend.Kind
	mode        StreamMode
	raw         bool
	stats       bool
}

func chatCmd() *cli.Command {
	var (
		modelRef   string
		prompt     string
		streamMode string
		rawOutput  bool
		showStats  bool
	)

	return &cli.Command{
		Name:   "chat",
		Usage:  "Chat with an imported model in the terminal",
		Before: prepare,
		Flags: append(append(runtimeFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model id or name (prompts for a choice when several are selectable)",
				Destination: &modelRef,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "send one prompt and exit",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "stream-mode",
				Usage:       "reply output (instant, smooth, quiet)",
				Value:       string(StreamInstant),
				Destination: &streamMode,
			},
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "escape control characters in replies",
				Destination: &rawOutput,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print generation stats after each reply",
				Value:       true,
				Destination: &showStats,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return err
			}

			return withStack(ctx, func(st *stack) error {
				d, err := resolveChatModel(modelRef, st.catalog.List(), os.Stdin, os.Stderr)
				if err != nil {
					return err
				}
				if d.Compatibility == model.Checking {
					_, _ = fmt.Fprintf(os.Stderr, "chat: waiting for %s to be checked\n", d.Name)
					d = settle(ctx, st.catalog, d)
				}

				c := chat.New(st.chatConfig())
				defer func() { _ = c.Close() }()
				if err := c.SelectModel(d); err != nil {
					return err
				}
				opts := turnOptions{accelerator: st.accelerator, mode: mode, raw: rawOutput, stats: showStats}

				if strings.TrimSpace(prompt) != "" {
					return runTurn(ctx, c, prompt, opts)
				}

				_, _ = fmt.Fprintf(os.Stderr, "chat: %s (%s). Ctrl+C stops a reply; Ctrl+C or Ctrl+D at the prompt exits.\n", d.Name, d.Compatibility)
				for {
					line, err := readInteractiveLine(">>> ")
					if errors.Is(err, io.EOF) || errors.Is(err, errPromptInterrupted) {
						return nil
					}
					if err != nil {
						return err
					}
					line = strings.TrimSpace(line)
					switch line {
					case "":
						continue
					case "/exit", "/quit", "/bye":
						return nil
					}
					if err := runTurn(ctx, c, line, opts); err != nil {
						// A failed reply leaves the model selectable; keep chatting.
						log.Error("generation failed", "error", err)
					}
				}
			})
		},
	}
}

// runTurn streams one reply. An interrupt while the reply is streaming stops
// the generation and returns to the prompt.
func runTurn(ctx context.Context, c *chat.Context, prompt string, opts turnOptions) error {
	turn, err := c.Send(ctx, prompt, opts.accelerator)
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupts:
			c.Stop()
		case <-done:
		}
	}()

	w := NewStreamWriter(os.Stdout, opts.mode, opts.raw)
	err = turn.Run(ctx, w.Write)
	w.Close()
	fmt.Println()

	sess := turn.Session()
	if sess.State() == inference.Cancelled {
		_, _ = fmt.Fprintln(os.Stderr, "[stopped]")
	}
	if opts.stats {
		printStats(os.Stderr, sess)
	}
	return err
}

func printStats(w io.Writer, sess *inference.Session) {
	stats := sess.Stats()
	accel := sess.Accelerator()
	if accel == "" {
		accel = "none"
	}
	_, _ = fmt.Fprintf(w, "Stats: %.2f TPS (%d tokens in %s, first token %s) on %s, %s\n",
		stats.TPS, stats.TokensGenerated, stats.Duration.Round(time.Millisecond), stats.FirstToken.Round(time.Millisecond), accel, sess.State())
}
