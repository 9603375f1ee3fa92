// Command tcrm manages a tender CRM session from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/ahmedmanch666/slam/internal/client"
)

const usage = `usage: tcrm [-server URL] [-session FILE] <command> [flags]

commands:
  register -email EMAIL   create an account (password is prompted)
  login -email EMAIL      open a session (password is prompted)
  me                      show the logged-in user
  refresh                 renew the access token
  logout                  end the session
`

var readPassword = term.ReadPassword

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("tcrm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	defaultServer := os.Getenv("TCRM_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:3001"
	}
	serverURL := fs.String("server", defaultServer, "API base URL")
	sessionPath := fs.String("session", "", "session file (default: user config dir)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	path := *sessionPath
	if path == "" {
		p, err := client.DefaultSessionPath()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		path = p
	}

	c := client.New(*serverURL, client.NewFileStore(path))
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	var err error
	switch cmd {
	case "register":
		err = register(ctx, c, cmdArgs, stdin, stdout, stderr)
	case "login":
		err = login(ctx, c, cmdArgs, stdin, stdout, stderr)
	case "me":
		err = me(ctx, c, stdout)
	case "refresh":
		err = c.Refresh(ctx)
		if err == nil {
			fmt.Fprintln(stdout, "access token renewed")
		}
	case "logout":
		err = c.Logout(ctx)
		if err == nil {
			fmt.Fprintln(stdout, "logged out")
		}
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}

	if err != nil {
		if errors.Is(err, client.ErrSessionExpired) || errors.Is(err, client.ErrNotLoggedIn) {
			fmt.Fprintln(stderr, "not logged in: run `tcrm login -email ...`")
			return 1
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func register(ctx context.Context, c *client.Client, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	email, password, err := credentials("register", args, stdin, stderr)
	if err != nil {
		return err
	}
	role, err := c.Register(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "registered %s as %s\n", email, role)
	return nil
}

func login(ctx context.Context, c *client.Client, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	email, password, err := credentials("login", args, stdin, stderr)
	if err != nil {
		return err
	}
	session, err := c.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "logged in as %s (%s)\n", session.Email, session.Role)
	return nil
}

func me(ctx context.Context, c *client.Client, stdout io.Writer) error {
	user, err := c.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "id:    %s\nemail: %s\nrole:  %s\n", user.ID, user.Email, user.Role)
	return nil
}

func credentials(name string, args []string, stdin io.Reader, stderr io.Writer) (string, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if *email == "" {
		return "", "", errors.New("-email is required")
	}

	password, err := promptPassword(stdin, stderr)
	if err != nil {
		return "", "", err
	}
	return *email, password, nil
}

// promptPassword reads without echo from a terminal, or one line otherwise.
func promptPassword(stdin io.Reader, stderr io.Writer) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stderr, "Password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
