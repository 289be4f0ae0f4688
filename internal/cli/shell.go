package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shinji-kodama/urlshield/internal/client"
	"github.com/shinji-kodama/urlshield/internal/model"
)

// menuOptions are the rows of the shell menu, in input order.
var menuOptions = []string{
	"Check if a URL is blacklisted",
	"Submit a malicious URL for blacklisting",
	"Rebuild the bloom filter with an updated list",
	"Check the current session logs",
	"Check server logs",
	"End the session",
}

// NewShellCommand creates the "shell" command, the client image's
// entrypoint.
func NewShellCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive client menu",
		Long: `Start an interactive client session. The session asks for a name (unless
--name or client.name is set), loads or builds the bloom filter and then
offers a numbered menu:

  1  Check if a URL is blacklisted
  2  Submit a malicious URL for blacklisting
  3  Rebuild the bloom filter with an updated list
  4  Check the current session logs
  5  Check server logs
  6  End the session`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := flags.resolve(cmd, "")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sh := newShell(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			sh.clear()
			fmt.Fprintf(sh.out, "Welcome to the urlshield URL scanner!\n\n")

			if cc.Name == "" {
				name, err := sh.askName(ctx)
				if err != nil {
					return cancelled(err)
				}
				cc.Name = name
			}

			c, err := flags.openClient(ctx, cc, true)
			if err != nil {
				return err
			}
			return sh.run(ctx, c)
		},
	}

	flags.register(cmd)
	return cmd
}

// shell is one interactive menu session.
type shell struct {
	lines       <-chan string
	out         io.Writer
	interactive bool
}

// newShell starts reading lines from in. The reader goroutine stops at EOF
// or when ctx is done.
func newShell(ctx context.Context, in io.Reader, out io.Writer) *shell {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimRight(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
	}()

	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &shell{lines: lines, out: out, interactive: interactive}
}

// prompt prints label and waits for one line of input. It returns io.EOF
// when input ends and ctx.Err() when the session is interrupted.
func (s *shell) prompt(ctx context.Context, label string) (string, error) {
	fmt.Fprint(s.out, label)
	select {
	case <-ctx.Done():
		fmt.Fprintln(s.out)
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			fmt.Fprintln(s.out)
			return "", io.EOF
		}
		return line, nil
	}
}

// clear wipes the terminal. It does nothing when input is not a terminal,
// so piped sessions keep a readable transcript.
func (s *shell) clear() {
	if s.interactive {
		fmt.Fprint(s.out, "\033[H\033[2J")
	}
}

func (s *shell) pause(ctx context.Context) error {
	_, err := s.prompt(ctx, "\nPress Enter to go back...")
	return err
}

func (s *shell) askName(ctx context.Context) (string, error) {
	for {
		name, err := s.prompt(ctx, "To start, please provide a name for logging purposes > ")
		if err != nil {
			return "", err
		}
		name = strings.TrimSpace(name)
		if err := model.ValidateClientName(name); err == nil {
			return name, nil
		}
	}
}

func (s *shell) askURL(ctx context.Context) (string, error) {
	label := "Enter a complete and valid URL > "
	for {
		raw, err := s.prompt(ctx, label)
		if err != nil {
			return "", err
		}
		raw = strings.TrimSpace(raw)
		if model.ValidateURL(raw) == nil {
			return raw, nil
		}
		label = "The given URL is invalid\nEnter a complete and valid URL > "
	}
}

func (s *shell) printMenu() {
	fmt.Fprintln(s.out, "PLEASE PICK AMONG THESE MENU OPTIONS")
	fmt.Fprintf(s.out, "  %-5s %s\n", "Input", "Description")
	for i, desc := range menuOptions {
		fmt.Fprintf(s.out, "  %-5d %s\n", i+1, desc)
	}
}

// run shows the menu until the user ends the session, input ends or the
// session is interrupted. Every exit path records the end of the session.
func (s *shell) run(ctx context.Context, c *client.Client) error {
	message := ""
	for {
		s.clear()
		s.printMenu()
		switch {
		case message != "":
			fmt.Fprintf(s.out, "\n%s\n\n", message)
			message = ""
		case !c.HasFilter():
			fmt.Fprintln(s.out, "Your bloom filter is not initialized")
		default:
			fmt.Fprintln(s.out)
		}

		option, err := s.prompt(ctx, "Enter Menu Option > ")
		if err == nil {
			message, err = s.dispatch(ctx, c, strings.TrimSpace(option))
		}
		switch {
		case errors.Is(err, errEndSession):
			c.Close(nil)
			fmt.Fprintln(s.out, "Thank you for using the urlshield URL scanner!")
			return nil
		case errors.Is(err, io.EOF):
			c.Close(errors.New("input closed"))
			return nil
		case err != nil:
			c.Close(err)
			return cancelled(err)
		}
	}
}

// errEndSession is returned by dispatch for menu option 6.
var errEndSession = errors.New("session ended by user")

// dispatch runs one menu option and returns the message to show above the
// next menu.
func (s *shell) dispatch(ctx context.Context, c *client.Client, option string) (string, error) {
	switch option {
	case "1":
		rawURL, err := s.askURL(ctx)
		if err != nil {
			return "", err
		}
		verdict, _ := c.CheckURL(ctx, rawURL)
		s.clear()
		fmt.Fprintf(s.out, "\nURL CHECK RESULTS\n  URL:       %s\n  Consensus: %s\n", rawURL, verdictMessage(verdict))
		return "", s.pause(ctx)

	case "2":
		rawURL, err := s.askURL(ctx)
		if err != nil {
			return "", err
		}
		switch err := c.BlacklistURL(ctx, rawURL); {
		case err == nil:
			return "Your request to blacklist a URL was successful!", nil
		case errors.Is(err, client.ErrAlreadyListed):
			return "The URL is already blacklisted", nil
		default:
			return "Your request to blacklist a URL failed", nil
		}

	case "3":
		if err := c.RebuildFilter(ctx); err != nil {
			return "Failed to build bloom filter", nil
		}
		return "Rebuilding the bloom filter was successful!", nil

	case "4":
		s.clear()
		lines, err := c.SessionLog()
		if err != nil {
			fmt.Fprintf(s.out, "Failed to read the session log: %v\n", err)
		}
		s.printLines(c.SessionLogPath(), lines)
		return "", s.pause(ctx)

	case "5":
		s.clear()
		lines, err := c.ServerLogs(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Failed to fetch the server logs: %v\n", err)
		}
		s.printLines("server activity log", lines)
		return "", s.pause(ctx)

	case "6":
		return "", errEndSession

	default:
		return "Your input is not a menu option.", nil
	}
}

func (s *shell) printLines(title string, lines []string) {
	fmt.Fprintf(s.out, "%s\n%s\n", title, strings.Repeat("-", len(title)))
	for _, line := range lines {
		fmt.Fprintln(s.out, line)
	}
}

// cancelled turns an interrupted prompt into a silent ExitUserCancelled.
func cancelled(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return &model.CLIError{Code: model.ExitUserCancelled}
	}
	return err
}
