package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	dbpkg "github.com/Hussein-Mazeh/vaultcore/internal/db"
	"github.com/Hussein-Mazeh/vaultcore/internal/logging"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

func newSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Unlock the vault and work with records interactively",
		Long: `Unlock the vault and start an interactive prompt.

The vault stays unlocked until 'lock', 'exit', end of input or a termination
signal. Type 'help' at the prompt for the command list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logging.WithSessionID(cmd.Context(), uuid.NewString())
			s := &session{app: a, in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}

			if err := s.unlock(ctx); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "session unlocked; type 'help' for commands")
			defer a.svc.LockVault(ctx)
			return s.loop(ctx)
		},
	}
}

type session struct {
	app    *app
	in     *bufio.Scanner
	out    io.Writer
	errOut io.Writer
}

func (s *session) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "pm> ")
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(s.out)
			return nil
		}

		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		var err error
		switch cmd {
		case "help":
			s.printHelp()
		case "status":
			err = report(s.app, s.out, s.app.svc.GetVaultStatus(ctx), formatStatus)
		case "lock":
			err = report(s.app, s.out, s.app.svc.LockVault(ctx), formatStatus)
		case "unlock":
			err = s.unlock(ctx)
		case "add":
			err = s.add(ctx, args)
		case "get":
			err = s.get(ctx, args)
		case "list":
			err = s.list(ctx)
		case "delete":
			err = s.delete(ctx, args)
		case "exit", "quit":
			return nil
		default:
			fmt.Fprintf(s.errOut, "unknown command: %s\n", cmd)
		}
		s.handleError(err)
	}
}

func (s *session) unlock(ctx context.Context) error {
	pw, err := s.app.password(s.errOut, "Enter master password: ")
	if err != nil {
		return fmt.Errorf("read master password: %w", err)
	}
	defer krypto.SecureZero(pw)
	return report(s.app, io.Discard, s.app.svc.UnlockVault(ctx, string(pw)), formatStatus)
}

func (s *session) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var user, site string
	fs.StringVar(&user, "user", "", "username")
	fs.StringVar(&site, "site", "", "website")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid add arguments"}
	}
	if fs.NArg() != 1 {
		return userError{msg: "usage: add [--user <username>] [--site <website>] <name>"}
	}
	name := fs.Arg(0)

	h, err := s.app.svc.Manager().Database()
	if err != nil {
		return userError{msg: err.Error()}
	}

	secret, err := s.app.password(s.errOut, "Secret: ")
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	defer krypto.SecureZero(secret)

	id, err := dbpkg.InsertPassword(ctx, h, name, user, site, string(secret))
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	fmt.Fprintf(s.out, "stored %s (id=%s)\n", name, id)
	return nil
}

func (s *session) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return userError{msg: "usage: get <name>"}
	}
	h, err := s.app.svc.Manager().Database()
	if err != nil {
		return userError{msg: err.Error()}
	}

	row, err := dbpkg.GetPasswordByName(ctx, h, args[0])
	if errors.Is(err, sql.ErrNoRows) {
		return userError{msg: fmt.Sprintf("no record named %s", args[0])}
	}
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}

	plain, err := dbpkg.RevealPassword(ctx, h, row)
	if err != nil && plain == "" {
		return userError{msg: fmt.Sprintf("failed to decrypt %s", row.Name)}
	}
	if err != nil {
		s.app.log.WarnContext(ctx, "reveal password", "err", err)
	}
	fmt.Fprintf(s.out, "%s %s: %s\n", row.Name, row.Username, plain)
	return nil
}

func (s *session) list(ctx context.Context) error {
	h, err := s.app.svc.Manager().Database()
	if err != nil {
		return userError{msg: err.Error()}
	}
	items, err := dbpkg.ListPasswords(ctx, h)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(s.out, "no records")
		return nil
	}
	for _, it := range items {
		fmt.Fprintf(s.out, "%s  %s  %s  %s\n", it.ID, it.Name, it.Username, it.Website)
	}
	return nil
}

func (s *session) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return userError{msg: "usage: delete <id>"}
	}
	h, err := s.app.svc.Manager().Database()
	if err != nil {
		return userError{msg: err.Error()}
	}
	err = dbpkg.DeleteByID(ctx, h, "vault_passwords", args[0])
	if errors.Is(err, sql.ErrNoRows) {
		return userError{msg: fmt.Sprintf("no record with id %s", args[0])}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "deleted %s\n", args[0])
	return nil
}

func (s *session) handleError(err error) {
	if err == nil {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(s.errOut, uerr.Error())
		return
	}

	fmt.Fprintf(s.errOut, "error: %v\n", err)
}

func (s *session) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  status | lock | unlock")
	fmt.Fprintln(s.out, "  add [--user <username>] [--site <website>] <name>")
	fmt.Fprintln(s.out, "  get <name>")
	fmt.Fprintln(s.out, "  list")
	fmt.Fprintln(s.out, "  delete <id>")
	fmt.Fprintln(s.out, "  exit | quit")
}
