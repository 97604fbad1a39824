package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const chatPrompt = "> "

// console reads lines from stdin. On a terminal it switches to raw mode
// so keypresses are seen while a line is still being typed.
type console struct {
	// interactive is set when stdin is a terminal in raw mode.
	interactive bool

	out      io.Writer
	readLine func() (string, error)
	prompt   func(string)
	restore  func()
}

func openConsole(onKey func()) (*console, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return lineConsole(os.Stdin, os.Stdout), nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("raw terminal: %w", err)
	}

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "")
	t.AutoCompleteCallback = keystrokeHook(onKey)

	return &console{
		interactive: true,
		out:         t,
		readLine:    t.ReadLine,
		prompt:      t.SetPrompt,
		restore:     func() { _ = term.Restore(fd, state) },
	}, nil
}

// lineConsole reads whole lines, for piped input.
func lineConsole(in io.Reader, out io.Writer) *console {
	scanner := bufio.NewScanner(in)
	return &console{
		out: out,
		readLine: func() (string, error) {
			if scanner.Scan() {
				return scanner.Text(), nil
			}
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		},
		prompt:  func(label string) { fmt.Fprint(out, label) },
		restore: func() {},
	}
}

// keystrokeHook reports every keypress to onKey and leaves the key to
// the terminal's normal line editing.
func keystrokeHook(onKey func()) func(line string, pos int, key rune) (string, int, bool) {
	return func(string, int, rune) (string, int, bool) {
		onKey()
		return "", 0, false
	}
}

func (c *console) ask(label string) (string, error) {
	c.prompt(label)
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
