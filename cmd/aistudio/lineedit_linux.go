//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// readInteractiveLine edits one line in raw mode. Signals are disabled while
// the prompt is shown so Ctrl+C arrives as a byte and ends the session
// instead of reaching the generation interrupt handler.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		return readPipedLine(prompt)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	newState := *oldState
	newState.Lflag &^= unix.ICANON | unix.ECHO | unix.ISIG
	newState.Cc[unix.VMIN] = 1
	newState.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &newState); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	e := &lineEditor{prompt: prompt, histPos: len(interactiveHistory)}
	fmt.Print(prompt)

	var (
		buf     [64]byte
		partial []byte
		esc     []byte
		inEsc   bool
	)
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		data := append(partial, buf[:n]...)
		partial = nil
		for len(data) > 0 {
			b := data[0]
			if inEsc {
				esc = append(esc, b)
				data = data[1:]
				if done := e.escape(esc); done {
					inEsc, esc = false, esc[:0]
				}
				continue
			}
			if b >= 0x80 {
				if !utf8.FullRune(data) {
					partial = append(partial, data...)
					break
				}
				r, size := utf8.DecodeRune(data)
				e.insert(r)
				data = data[size:]
				continue
			}
			data = data[1:]
			switch b {
			case 27: // ESC
				inEsc = true
			case '\r', '\n':
				fmt.Print("\r\n")
				out := string(e.line)
				if strings.TrimSpace(out) != "" {
					interactiveHistory = append(interactiveHistory, out)
				}
				return out, nil
			case 3: // Ctrl+C
				fmt.Print("^C\r\n")
				return "", errPromptInterrupted
			case 4: // Ctrl+D
				if len(e.line) == 0 {
					fmt.Print("\r\n")
					return "", io.EOF
				}
			case 127, 8: // backspace
				e.backspace()
			case 1: // Ctrl+A
				e.moveTo(0)
			case 5: // Ctrl+E
				e.moveTo(len(e.line))
			case 21: // Ctrl+U
				e.line = append(e.line[:0], e.line[e.cursor:]...)
				e.moveTo(0)
			case 23: // Ctrl+W
				e.deleteWordBack()
			default:
				if b >= 32 {
					e.insert(rune(b))
				}
			}
		}
	}
}

type lineEditor struct {
	prompt string
	line   []rune
	cursor int

	histPos  int
	histEdit bool
	draft    []rune
}

func (e *lineEditor) redraw() {
	fmt.Printf("\r%s%s\x1b[K", e.prompt, string(e.line))
	if e.cursor < len(e.line) {
		fmt.Printf("\r%s%s", e.prompt, string(e.line[:e.cursor]))
	}
}

func (e *lineEditor) moveTo(pos int) {
	e.cursor = max(0, min(pos, len(e.line)))
	e.redraw()
}

func (e *lineEditor) insert(r rune) {
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = r
	e.cursor++
	e.redraw()
}

func (e *lineEditor) backspace() {
	if e.cursor == 0 {
		return
	}
	e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
	e.moveTo(e.cursor - 1)
}

func (e *lineEditor) deleteWordBack() {
	start := e.cursor
	for start > 0 && e.line[start-1] == ' ' {
		start--
	}
	for start > 0 && e.line[start-1] != ' ' {
		start--
	}
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.moveTo(start)
}

func (e *lineEditor) recall(pos int) {
	if !e.histEdit {
		e.draft = append([]rune(nil), e.line...)
		e.histEdit = true
	}
	e.histPos = pos
	if pos >= len(interactiveHistory) {
		e.line = append(e.line[:0], e.draft...)
		e.histEdit = false
	} else {
		e.line = []rune(interactiveHistory[pos])
	}
	e.moveTo(len(e.line))
}

// escape consumes an escape sequence and reports whether it is complete.
// seq excludes the leading ESC.
func (e *lineEditor) escape(seq []byte) bool {
	if seq[0] != '[' && seq[0] != 'O' {
		return true
	}
	if len(seq) == 1 {
		return false
	}
	last := seq[len(seq)-1]
	if !(last >= 'A' && last <= 'Z') && !(last >= 'a' && last <= 'z') && last != '~' {
		return false
	}
	switch string(seq[1:]) {
	case "A": // up
		if e.histPos > 0 {
			e.recall(e.histPos - 1)
		}
	case "B": // down
		if e.histEdit {
			e.recall(e.histPos + 1)
		}
	case "C":
		e.moveTo(e.cursor + 1)
	case "D":
		e.moveTo(e.cursor - 1)
	case "H", "1~":
		e.moveTo(0)
	case "F", "4~":
		e.moveTo(len(e.line))
	case "3~":
		if e.cursor < len(e.line) {
			e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			e.redraw()
		}
	}
	return true
}
