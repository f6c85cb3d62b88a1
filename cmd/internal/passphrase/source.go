// Package passphrase resolves operator secrets for the agent commands.
package passphrase

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a client secret from an environment variable, a
// secret file, or by prompting the operator. The value is cached after the
// first successful retrieval so repeated calls reuse the same secret.
type Source struct {
	envVar string
	file   string
	prompt string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a secret source that checks envVar, then filePath,
// before interactively prompting on the terminal. The prompt labels what is
// being asked for.
func NewSource(envVar, filePath, prompt string) *Source {
	if strings.TrimSpace(prompt) == "" {
		prompt = "client secret"
	}
	return &Source{
		envVar: strings.TrimSpace(envVar),
		file:   strings.TrimSpace(filePath),
		prompt: prompt,
	}
}

// Get returns the cached secret or resolves it if this is the first call.
// When the environment variable is set the exact value is used; a secret
// file is read with its trailing newline stripped; otherwise the operator is
// prompted on stderr. Whitespace-only secrets are rejected so a blank value
// never passes for a credential.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if s.file != "" {
			raw, err := os.ReadFile(s.file)
			if err != nil {
				s.err = fmt.Errorf("read secret file: %w", err)
				return
			}
			value := strings.TrimRight(string(raw), "\r\n")
			if strings.TrimSpace(value) == "" {
				s.err = fmt.Errorf("secret file %s is empty", s.file)
				return
			}
			s.value = value
			return
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.prompt, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.prompt)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter %s: ", s.prompt)
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.prompt, err)
			return
		}

		secret := string(bytes)
		if strings.TrimSpace(secret) == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.prompt)
			return
		}

		s.value = secret
	})

	return s.value, s.err
}
