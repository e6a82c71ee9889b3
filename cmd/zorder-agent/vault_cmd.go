package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var vaultPrincipal string

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(vaultSaveCmd, vaultDeleteCmd, vaultStatusCmd)
	vaultSaveCmd.Flags().StringVar(&vaultPrincipal, "principal", "", "Login principal (prompted when empty)")
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the encrypted login credentials",
}

var vaultSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store the login principal and secret",
	Long:  "Prompts for the secret without echo. Replaces any stored credentials.",
	Args:  cobra.NoArgs,
	RunE:  runVaultSave,
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove stored credentials and their keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := openVault(cfg, logger).Delete(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Credentials deleted")
		return nil
	},
}

var vaultStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether credentials are stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		v := openVault(cfg, logger)
		if !v.HasCredentials() {
			fmt.Fprintf(cmd.OutOrStdout(), "No credentials stored (%s)\n", v.Path())
			return nil
		}
		if _, _, err := v.Load(); err != nil {
			return fmt.Errorf("credentials stored at %s but unreadable: %w", v.Path(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Credentials stored (%s)\n", v.Path())
		return nil
	},
}

func runVaultSave(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	principal := strings.TrimSpace(vaultPrincipal)
	if principal == "" {
		fmt.Fprint(os.Stderr, "Principal: ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading principal: %w", err)
		}
		principal = strings.TrimSpace(line)
	}
	if principal == "" {
		return errors.New("principal is required")
	}

	secret, err := readSecret(in)
	if err != nil {
		return err
	}
	if secret == "" {
		return errors.New("secret is required")
	}

	v := openVault(cfg, logger)
	if err := v.Save(principal, secret); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Credentials saved (%s)\n", v.Path())
	return nil
}

// readSecret reads without echo from a terminal, or one line from piped
// input.
func readSecret(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Secret: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
