package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// errPromptInterrupted is returned when Ctrl+C is pressed at the prompt.
var errPromptInterrupted = errors.New("interrupted")

var (
	stdinReader        = bufio.NewReader(os.Stdin)
	interactiveHistory []string
)

// readPipedLine reads one line from a non-interactive stdin. It reports
// io.EOF only once no input is left.
func readPipedLine(prompt string) (string, error) {
	if stdinIsTTY() {
		fmt.Print(prompt)
	}
	s, err := stdinReader.ReadString('\n')
	if errors.Is(err, io.EOF) && s != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return trimTrailingNewline(s), nil
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
