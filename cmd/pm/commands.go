package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Hussein-Mazeh/vaultcore/auth"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pm version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cliVersion)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the vault exists and is locked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(a, cmd.OutOrStdout(), a.svc.GetVaultStatus(cmd.Context()), formatStatus)
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault protected by a master password",
		Long: `Create a new vault.

You are prompted for the master password twice. It must be at least 8 characters.
The password is never stored; losing it means losing the vault.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.readConfirmed(cmd, "Enter master password: ", "Confirm master password: ")
			if err != nil {
				return err
			}
			defer krypto.SecureZero(pw)

			res := a.svc.InitializeVault(cmd.Context(), string(pw))
			if err := report(a, cmd.OutOrStdout(), res, formatStatus); err != nil {
				return err
			}
			a.svc.LockVault(cmd.Context())
			return nil
		},
	}
}

func newChangePasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "change-password",
		Short: "Re-wrap the vault key under a new master password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			current, err := a.password(cmd.ErrOrStderr(), "Current master password: ")
			if err != nil {
				return fmt.Errorf("read current master password: %w", err)
			}
			defer krypto.SecureZero(current)

			if err := report(a, io.Discard, a.svc.UnlockVault(ctx, string(current)), formatStatus); err != nil {
				return err
			}
			defer a.svc.LockVault(ctx)

			next, err := a.readConfirmed(cmd, "New master password: ", "Confirm new master password: ")
			if err != nil {
				return err
			}
			defer krypto.SecureZero(next)

			return report(a, cmd.OutOrStdout(), a.svc.ChangeMasterPassword(ctx, string(current), string(next)),
				func(struct{}) string { return "master password changed" })
		},
	}
}

func newCheckPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-password",
		Short: "Score a candidate master password without touching the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password(cmd.ErrOrStderr(), "Password to check: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			defer krypto.SecureZero(pw)
			return report(a, cmd.OutOrStdout(), a.svc.ValidateMasterPassword(string(pw)), formatStrength)
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the vault manager can report its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(a, cmd.OutOrStdout(), a.svc.HealthCheck(cmd.Context()),
				func(s string) string { return s })
		},
	}
}

func (a *app) readConfirmed(cmd *cobra.Command, prompt, confirmPrompt string) ([]byte, error) {
	pw, err := a.password(cmd.ErrOrStderr(), prompt)
	if err != nil {
		return nil, fmt.Errorf("read master password: %w", err)
	}
	confirm, err := a.password(cmd.ErrOrStderr(), confirmPrompt)
	if err != nil {
		krypto.SecureZero(pw)
		return nil, fmt.Errorf("read confirmation password: %w", err)
	}
	defer krypto.SecureZero(confirm)

	if !bytes.Equal(pw, confirm) {
		krypto.SecureZero(pw)
		return nil, userError{msg: "passwords do not match"}
	}
	return pw, nil
}

func formatStrength(s auth.Strength) string {
	var b strings.Builder
	verdict := "meets policy"
	if !s.Valid {
		verdict = "does not meet policy"
	}
	fmt.Fprintf(&b, "%s; strength %d/4", verdict, s.Score)
	if s.CrackTimeDisplay != "" {
		fmt.Fprintf(&b, " (crack time: %s)", s.CrackTimeDisplay)
	}
	for _, f := range s.Feedback {
		fmt.Fprintf(&b, "\n  - %s", f)
	}
	return b.String()
}
