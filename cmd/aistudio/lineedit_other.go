//go:build !linux

package main

func readInteractiveLine(prompt string) (string, error) {
	return readPipedLine(prompt)
}
