// Package prompt asks the user for values the flows cannot produce on
// their own: passwords, Steam Guard codes, CAPTCHA answers.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoAnswer is returned when the input ends before an answer is read.
var ErrNoAnswer = errors.New("no answer")

// Prompter reads one answer per call. Secret input must not be echoed.
type Prompter interface {
	Secret(label string) (string, error)
	Visible(label string) (string, error)
}

// Terminal prompts on out and reads answers from in. Secret answers are
// read with echo disabled when in is a terminal.
type Terminal struct {
	in  *os.File
	out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminal returns a Terminal over stdin and stderr.
func NewTerminal() *Terminal {
	return &Terminal{in: os.Stdin, out: os.Stderr}
}

func (t *Terminal) Secret(label string) (string, error) {
	fd := int(t.in.Fd())
	if !term.IsTerminal(fd) {
		return t.Visible(label)
	}

	fmt.Fprint(t.out, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	answer := strings.TrimSpace(string(b))
	clear(b)
	return answer, nil
}

func (t *Terminal) Visible(label string) (string, error) {
	t.once.Do(func() { t.reader = bufio.NewReader(t.in) })

	fmt.Fprint(t.out, label)
	line, err := t.reader.ReadString('\n')
	switch {
	case errors.Is(err, io.EOF) && line == "":
		return "", ErrNoAnswer
	case err != nil && !errors.Is(err, io.EOF):
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Scripted answers prompts from a fixed list, in order. Labels are
// recorded so tests can check what was asked.
type Scripted struct {
	mu      sync.Mutex
	answers []string
	Asked   []string
}

func NewScripted(answers ...string) *Scripted {
	return &Scripted{answers: answers}
}

func (s *Scripted) Secret(label string) (string, error) {
	return s.next(label)
}

func (s *Scripted) Visible(label string) (string, error) {
	return s.next(label)
}

func (s *Scripted) next(label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Asked = append(s.Asked, label)
	if len(s.answers) == 0 {
		return "", ErrNoAnswer
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}
