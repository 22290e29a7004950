// Package prompt selects the writing prompt of the day from a fixed list.
package prompt

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jun/promptdrive/internal/model"
)

// DateLayout is the date format used for prompts and Drive folder names.
const DateLayout = "2006-01-02"

// ErrNoPrompts is returned when a prompt list has no entries.
var ErrNoPrompts = errors.New("prompt list is empty")

//go:embed default.txt
var defaultList string

// Book is an immutable list of prompts.
type Book struct {
	prompts []string
}

// New returns a Book over a copy of prompts. Blank entries are dropped.
func New(prompts []string) (*Book, error) {
	list := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	if len(list) == 0 {
		return nil, ErrNoPrompts
	}
	return &Book{prompts: list}, nil
}

// Parse reads one prompt per line. Blank lines and lines starting with '#'
// are skipped.
func Parse(r io.Reader) (*Book, error) {
	var list []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list = append(list, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", err)
	}
	return New(list)
}

// Load parses the prompt file at path.
func Load(path string) (*Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompts file: %w", err)
	}
	defer f.Close()

	b, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Default returns the built-in prompt list.
func Default() *Book {
	b, err := Parse(strings.NewReader(defaultList))
	if err != nil {
		panic("prompt: invalid built-in list: " + err.Error())
	}
	return b
}

// Len returns the number of prompts.
func (b *Book) Len() int {
	return len(b.prompts)
}

// ForDate returns the prompt for the calendar day of t in t's location.
// The index is the 1-based day of the year modulo the list length.
func (b *Book) ForDate(t time.Time) model.Prompt {
	day := t.YearDay()
	idx := day % len(b.prompts)
	return model.Prompt{
		Text:      b.prompts[idx],
		Index:     idx,
		DayOfYear: day,
		Date:      t.Format(DateLayout),
	}
}
