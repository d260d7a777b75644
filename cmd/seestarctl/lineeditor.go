package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

// lineEditor wraps either an interactive readline.Instance (history,
// Emacs-style keybindings) or a plain bufio.Scanner for non-TTY stdin
// (piped scripts, tests), behind one GetLine/Close interface.
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
}

const historyLimit = 500

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".seestarctl_history"
	}
	return filepath.Join(home, ".seestarctl_history")
}

// newLineEditor builds an interactive editor when stdin is a terminal, and
// falls back to a scanner otherwise.
func newLineEditor(prompt string) (*lineEditor, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}, nil
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyPath(),
		HistoryLimit:      historyLimit,
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &lineEditor{rl: rl}, nil
}

func (e *lineEditor) SetPrompt(prompt string) {
	if e.rl != nil {
		e.rl.SetPrompt(prompt)
	}
}

// GetLine returns the next line of input, or io.EOF on Ctrl-D, Ctrl-C, or
// end of piped input.
func (e *lineEditor) GetLine() (string, error) {
	if e.rl != nil {
		line, err := e.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", err
		}
		return line, nil
	}

	if !e.scanner.Scan() {
		if err := e.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return e.scanner.Text(), nil
}

func (e *lineEditor) Close() error {
	if e.rl != nil {
		return e.rl.Close()
	}
	return nil
}
