package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// LineInput reads one line of user input per call.
type LineInput interface {
	ReadLine(prompt string) (string, error)
	// Writer returns the writer that output should go through so that it
	// does not garble the prompt being edited.
	Writer() io.Writer
	Close() error
}

type basicLineInput struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewBasicInput reads lines from in without editing support.
func NewBasicInput(in io.Reader, out io.Writer) LineInput {
	return &basicLineInput{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

func (b *basicLineInput) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineInput) Writer() io.Writer { return b.out }

func (b *basicLineInput) Close() error { return nil }

type readlineInput struct {
	instance *readline.Instance
}

func newReadlineInput(historyPath string) (*readlineInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
		AutoComplete:      commandCompleter(),
	})
	if err != nil {
		return nil, err
	}
	return &readlineInput{instance: instance}, nil
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineInput) Writer() io.Writer { return r.instance.Stdout() }

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

// NewLineInput prefers a readline editor with history and falls back to
// basic stdin reading when the terminal cannot be driven.
func NewLineInput(historyPath string) (LineInput, error) {
	readlineReader, err := newReadlineInput(historyPath)
	if err == nil {
		return readlineReader, nil
	}
	return NewBasicInput(os.Stdin, os.Stdout), err
}

func commandCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/list"),
		readline.PcItem("/new", readline.PcItem("chat"), readline.PcItem("image")),
		readline.PcItem("/open"),
		readline.PcItem("/show"),
		readline.PcItem("/rename"),
		readline.PcItem("/model"),
		readline.PcItem("/instruction"),
		readline.PcItem("/delete"),
		readline.PcItem("/image"),
		readline.PcItem("/stream"),
		readline.PcItem("/cancel"),
		readline.PcItem("/folders"),
		readline.PcItem("/folder", readline.PcItem("new"), readline.PcItem("rm")),
		readline.PcItem("/move"),
		readline.PcItem("/project"),
		readline.PcItem("/dismiss"),
		readline.PcItem("/login"),
		readline.PcItem("/quit"),
	)
}
