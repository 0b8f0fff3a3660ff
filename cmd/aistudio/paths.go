package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samcharles93/aistudio/internal/model"
)

const (
	envHome             = "AISTUDIO_HOME"
	defaultSettingsName = "settings.yaml"
)

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// resolveDataDir picks the flag, then $AISTUDIO_HOME, then ~/.aistudio, and
// makes sure the directory exists.
func resolveDataDir(flag string) (string, error) {
	dir := strings.TrimSpace(flag)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envHome))
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("--data-dir is required unless %s or a home directory is set", envHome)
		}
		dir = filepath.Join(home, ".aistudio")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func resolveSettingsPath(dir, flag string) string {
	if flag = strings.TrimSpace(flag); flag != "" {
		return filepath.Clean(flag)
	}
	return filepath.Join(dir, defaultSettingsName)
}

// resolveChatModel picks the model a chat starts with. An explicit ref must
// name a model; otherwise the single selectable model is used, or the user
// chooses one when stdin is interactive.
func resolveChatModel(ref string, models []model.Descriptor, stdin io.Reader, stderr io.Writer) (model.Descriptor, error) {
	if ref = strings.TrimSpace(ref); ref != "" {
		for _, d := range models {
			if d.ID == ref || d.Name == ref {
				return d, nil
			}
		}
		return model.Descriptor{}, fmt.Errorf("model %q not found", ref)
	}

	var usable []model.Descriptor
	for _, d := range models {
		if d.Generatable() {
			usable = append(usable, d)
		}
	}
	switch len(usable) {
	case 0:
		return model.Descriptor{}, errors.New("no selectable models; import one and pair its tokenizer with `aistudio models`")
	case 1:
		_, _ = fmt.Fprintf(stderr, "chat: using model %s\n", usable[0].Name)
		return usable[0], nil
	default:
		if !stdinIsTTY() {
			return model.Descriptor{}, errors.New("multiple models are selectable but stdin is not interactive; set --model")
		}
		return selectModelInteractively(usable, stdin, stderr)
	}
}

func selectModelInteractively(models []model.Descriptor, stdin io.Reader, stderr io.Writer) (model.Descriptor, error) {
	if len(models) == 0 {
		return model.Descriptor{}, errors.New("no models available")
	}

	_, _ = fmt.Fprintln(stderr, "chat: select a model")
	for i, d := range models {
		_, _ = fmt.Fprintf(stderr, "%d. %s (%s)\n", i+1, d.Name, d.Compatibility)
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "chat: enter selection [1-%d]: ", len(models))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return model.Descriptor{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if errors.Is(err, io.EOF) {
				return model.Descriptor{}, errors.New("no selection provided on stdin; set --model")
			}
			continue
		}

		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(models) {
			_, _ = fmt.Fprintf(stderr, "chat: invalid selection %q\n", line)
			if errors.Is(err, io.EOF) {
				return model.Descriptor{}, errors.New("invalid selection provided on stdin; set --model")
			}
			continue
		}
		return models[idx-1], nil
	}
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
