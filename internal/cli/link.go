package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trymwestin/procare/internal/configflow"
)

var (
	linkUsername string
	linkKid      string
)

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().StringVarP(&linkUsername, "username", "u", "", "Procare account email")
	linkCmd.Flags().StringVar(&linkKid, "kid", "", "kid id to link (skips the prompt)")
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a Procare account and pick a kid to follow",
	Long: `Sign in to Procare Connect, list the kids on the account and store an
entry for the chosen kid. A running daemon picks the entry up on restart,
or link through POST /api/flows to load it immediately.

Examples:
  procared link
  procared link -u parent@example.com --kid 1234`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		flow := configflow.New(configflow.ProcareConnector(procareOptions(), log), entryStore(), log)
		return runLink(cmd.Context(), newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()), cmd.OutOrStdout(), flow, linkUsername, linkKid)
	},
}

// prompter reads answers from the user; secrets are not echoed on a terminal.
type prompter struct {
	in  *bufio.Reader
	fd  int
	tty bool
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd, p.tty = int(f.Fd()), true
	}
	return p
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) secret(label string) (string, error) {
	if !p.tty {
		return p.ask(label)
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func runLink(ctx context.Context, p *prompter, out io.Writer, flow *configflow.Flow, username, kidID string) error {
	var err error
	if username == "" {
		if username, err = p.ask("Email: "); err != nil {
			return err
		}
	}
	password, err := p.secret("Password: ")
	if err != nil {
		return err
	}

	res := flow.StepUser(ctx, username, password)
	if base := res.Errors["base"]; base != "" {
		return fmt.Errorf("link: %s", base)
	}

	if kidID == "" {
		for i, k := range res.Kids {
			fmt.Fprintf(out, "  %d) %s (%s)\n", i+1, k.Name, k.ID)
		}
		answer, err := p.ask("Kid: ")
		if err != nil {
			return err
		}
		kidID = answer
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(res.Kids) {
			kidID = res.Kids[n-1].ID
		}
	}

	res, err = flow.StepSelectKid(ctx, kidID)
	if err != nil {
		return err
	}
	switch res.Type {
	case configflow.ResultCreateEntry:
		fmt.Fprintf(out, "Linked %s (entry %s)\n", res.Entry.Title, res.Entry.ID)
		return nil
	case configflow.ResultAbort:
		return fmt.Errorf("link: %s", res.Reason)
	default:
		return fmt.Errorf("link: %s", res.Errors["kid"])
	}
}
