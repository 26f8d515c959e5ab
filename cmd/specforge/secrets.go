package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"specforge/pkg/config"
)

func secretsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted API key file",
		Long: `Manage .specforge/secrets.json.enc. The password is read from
SPECFORGE_PASSWORD or prompted for.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "set <NAME> [value]",
			Short:   "Store a secret (value prompted for when omitted)",
			Example: "  specforge secrets set ANTHROPIC_API_KEY",
			Args:    cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				password, err := secretsPassword(g.projectDir, true)
				if err != nil {
					return err
				}
				if err := openSecrets(g.projectDir, password); err != nil {
					return err
				}
				value := ""
				if len(args) == 2 {
					value = args[1]
				} else if value, err = readSecretValue(cmd.InOrStdin(), args[0]); err != nil {
					return err
				}
				if strings.TrimSpace(value) == "" {
					return errors.New("secret value is empty")
				}
				config.SetSecret(args[0], value)
				if err := config.SaveSecretsToFile(g.projectDir, password); err != nil {
					return err //nolint:wrapcheck // already descriptive
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored secret names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if !config.SecretsFileExists(g.projectDir) {
					fmt.Fprintln(cmd.OutOrStdout(), "no secrets file")
					return nil
				}
				password, err := secretsPassword(g.projectDir, false)
				if err != nil {
					return err
				}
				if err := openSecrets(g.projectDir, password); err != nil {
					return err
				}
				for _, name := range config.SecretNames() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <NAME>",
			Short: "Remove a stored secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !config.SecretsFileExists(g.projectDir) {
					return errors.New("no secrets file")
				}
				password, err := secretsPassword(g.projectDir, false)
				if err != nil {
					return err
				}
				if err := openSecrets(g.projectDir, password); err != nil {
					return err
				}
				config.DeleteSecret(args[0])
				if err := config.SaveSecretsToFile(g.projectDir, password); err != nil {
					return err //nolint:wrapcheck // already descriptive
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

// openSecrets loads the existing file, if any, into memory.
func openSecrets(projectDir, password string) error {
	if !config.SecretsFileExists(projectDir) {
		config.SetDecryptedSecrets(map[string]string{})
		return nil
	}
	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// secretsPassword reads the password from the environment or the terminal.
// Creating a new file asks for confirmation.
func secretsPassword(projectDir string, mayCreate bool) (string, error) {
	if password := os.Getenv(EnvPassword); password != "" {
		return password, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("%s is not set and stdin is not a terminal", EnvPassword)
	}
	password, err := readPassword("Secrets password: ")
	if err != nil {
		return "", err
	}
	if mayCreate && !config.SecretsFileExists(projectDir) {
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if confirm != password {
			return "", errors.New("passwords do not match")
		}
	}
	if password == "" {
		return "", errors.New("password is empty")
	}
	return password, nil
}

func readSecretValue(stdin io.Reader, name string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return readPassword(name + ": ")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read secret value: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
