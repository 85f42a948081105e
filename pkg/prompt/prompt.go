// Package prompt resolves where the prompts for a run come from.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

const Fallback = "The quick brown fox jumps over the lazy dog."

type Kind int

const (
	KindInline Kind = iota
	KindFile
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindInline:
		return "inline"
	case KindFile:
		return "file"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

var ErrNoPrompts = errors.New("prompt file contains no prompts")

type List struct {
	Kind    Kind
	Prompts []string
}

func (l *List) Len() int {
	return len(l.Prompts)
}

// Resolve picks the prompt file if set, then the inline prompt, then the
// fallback pangram. A non-nil empty prompt is embedded as is. warnf is
// called when falling back.
func Resolve(prompt *string, promptFile string, warnf func(string, ...interface{})) (*List, error) {
	if promptFile != "" {
		prompts, err := ReadFile(promptFile)
		if err != nil {
			return nil, err
		}
		return &List{Kind: KindFile, Prompts: prompts}, nil
	}

	if prompt != nil {
		return &List{Kind: KindInline, Prompts: []string{*prompt}}, nil
	}

	if warnf != nil {
		warnf("No prompt or prompt file was provided. See --help")
	}
	return &List{Kind: KindFallback, Prompts: []string{Fallback}}, nil
}

func ReadFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not read prompt file at %s: %w", path, err)
	}
	defer file.Close()

	prompts, err := Split(file)
	if err != nil {
		return nil, fmt.Errorf("could not read prompt file at %s: %w", path, err)
	}
	return prompts, nil
}

// Split returns one prompt per line. LF and CRLF terminators are stripped,
// empty lines are kept, and a final terminator does not add an empty prompt.
func Split(r io.Reader) ([]string, error) {
	var prompts []string
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		prompts = append(prompts, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(prompts) == 0 {
		return nil, ErrNoPrompts
	}
	return prompts, nil
}
