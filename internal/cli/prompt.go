package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var secretHints = []string{"password", "secret", "token", "apikey", "api_key"}

// isTerminal reports whether f refers to a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// isInteractive checks if in is a terminal (not piped)
func isInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && isTerminal(f)
}

func isSecretName(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range secretHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// promptMissing asks for each name in turn. Secret-looking names are read
// without echo when in is a terminal.
func promptMissing(names []string, in io.Reader, out io.Writer) (map[string]string, error) {
	reader := bufio.NewReader(in)
	values := make(map[string]string, len(names))

	for _, name := range names {
		fmt.Fprintf(out, "Enter value for '%s': ", name)

		var value string
		if f, ok := in.(*os.File); ok && isSecretName(name) && isTerminal(f) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			if err != nil {
				return nil, fmt.Errorf("failed to read input for '%s': %w", name, err)
			}
			value = string(b)
		} else {
			line, err := reader.ReadString('\n')
			if err != nil && (err != io.EOF || line == "") {
				return nil, fmt.Errorf("failed to read input for '%s': %w", name, err)
			}
			value = line
		}

		values[name] = strings.TrimSpace(value)
	}

	return values, nil
}
