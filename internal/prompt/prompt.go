// Package prompt reads admin credentials interactively.
//
// Passwords are read without echo when stdin is a terminal. Piped input is
// read line by line, so scripts can feed credentials to the admin commands.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/markb/brandgallery/internal/admin"
)

// maxAttempts bounds every reprompt loop.
const maxAttempts = 3

// Prompter reads answers from in and writes questions to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal fd for hidden input, -1 when in is not a terminal
}

// New returns a Prompter over arbitrary streams. Passwords are echoed.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out, fd: -1}
}

// Stdio returns a Prompter on the process's stdin and stdout.
func Stdio() *Prompter {
	p := New(os.Stdin, os.Stdout)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		p.fd = fd
	}
	return p
}

// Email prompts until a valid address is given and returns it normalized.
func (p *Prompter) Email(prompt string) (string, error) {
	for range maxAttempts {
		fmt.Fprintf(p.out, "%s: ", prompt)

		input, err := p.readLine()
		if err != nil {
			return "", err
		}

		email := admin.NormalizeEmail(input)
		if err := admin.ValidateEmail(email); err != nil {
			fmt.Fprintln(p.out, "Please enter a valid email address.")
			continue
		}
		return email, nil
	}
	return "", fmt.Errorf("no valid email after %d attempts", maxAttempts)
}

// Password prompts for a password of at least admin.MinPasswordLength.
func (p *Prompter) Password(prompt string) (string, error) {
	for range maxAttempts {
		password, err := p.secret(prompt)
		if err != nil {
			return "", err
		}
		if err := admin.ValidatePassword(password); err != nil {
			fmt.Fprintf(p.out, "Password must be at least %d characters.\n", admin.MinPasswordLength)
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("no valid password after %d attempts", maxAttempts)
}

// ConfirmPassword asks for password again. It reprompts on mismatch.
func (p *Prompter) ConfirmPassword(prompt, password string) error {
	for i := range maxAttempts {
		confirm, err := p.secret(prompt)
		if err != nil {
			return err
		}

		if confirm == password {
			return nil
		}

		if i < maxAttempts-1 {
			fmt.Fprintln(p.out, "Passwords do not match. Please try again.")
		}
	}

	return fmt.Errorf("password confirmation failed after %d attempts", maxAttempts)
}

// NewPassword reads a password and its confirmation.
func (p *Prompter) NewPassword() (string, error) {
	password, err := p.Password("Password")
	if err != nil {
		return "", err
	}
	if err := p.ConfirmPassword("Confirm password", password); err != nil {
		return "", err
	}
	return password, nil
}

// Confirm asks a yes/no question. Anything but y or yes is no.
func (p *Prompter) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	input, err := p.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Line prompts for free text, returning def when the answer is empty.
func (p *Prompter) Line(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", prompt)
	}
	input, err := p.readLine()
	if err != nil {
		return "", err
	}
	if input = strings.TrimSpace(input); input == "" {
		return def, nil
	}
	return input, nil
}

func (p *Prompter) secret(prompt string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)

	if p.fd >= 0 {
		password, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	return p.readLine()
}

func (p *Prompter) readLine() (string, error) {
	input, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(input, "\r\n"), nil
}
