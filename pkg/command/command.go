// Package command wraps a raw simulator/sampler command line: tokenizing
// it with shell-style quoting and checking that the resulting executable
// can actually be found on PATH.
package command

import (
	"fmt"
	"os/exec"

	"github.com/google/shlex"
)

// Command is an immutable, tokenized command line ready to be exec'd.
// Construct with New; the zero value is not valid.
type Command struct {
	raw    string
	tokens []string
}

// New tokenizes raw using shell-style quoting (single quotes, double
// quotes, backslash escapes), matching the original implementation's
// vector_strtok behavior. An empty or all-whitespace command line is
// rejected, as is a command line with an unclosed quote.
func New(raw string) (Command, error) {
	tokens, err := shlex.Split(raw)
	if err != nil {
		return Command{}, fmt.Errorf("command: tokenizing %q: %w", raw, err)
	}
	if len(tokens) == 0 {
		return Command{}, fmt.Errorf("command: %q has no tokens", raw)
	}
	return Command{raw: raw, tokens: tokens}, nil
}

// String returns the original, untokenized command line.
func (c Command) String() string {
	return c.raw
}

// Argv returns the tokenized argument vector, argv[0] being the
// executable. Callers must not mutate the returned slice.
func (c Command) Argv() []string {
	return c.tokens
}

// IsExecutable reports whether argv[0] can be resolved on PATH (or is
// itself a runnable path).
func (c Command) IsExecutable() bool {
	if len(c.tokens) == 0 {
		return false
	}
	_, err := exec.LookPath(c.tokens[0])
	return err == nil
}

// Cmd returns an *exec.Cmd ready to run, with argv[1:] as arguments.
func (c Command) Cmd() *exec.Cmd {
	return exec.Command(c.tokens[0], c.tokens[1:]...)
}
