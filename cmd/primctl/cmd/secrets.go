package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sekia-ai/primbus/internal/secrets"
)

// secretsConfig is the primd.toml or prim-robot.toml the secrets
// subcommands act on.
var secretsConfig string

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Seal and audit the credentials in primbus config files",
	}
	cmd.PersistentFlags().StringVar(&secretsConfig, "config", "", "config file whose identity and keys to use")

	cmd.AddCommand(newSecretsKeygenCmd())
	cmd.AddCommand(newSecretsEncryptCmd())
	cmd.AddCommand(newSecretsDecryptCmd())
	cmd.AddCommand(newSecretsCheckCmd())

	return cmd
}

func newSecretsKeygenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the age key primd and prim-robot open sealed values with",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = secrets.DefaultKeyPath()
			}
			recipient, err := secrets.GenerateKeyFile(output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key file written to: %s\nPublic key: %s\n", output, recipient)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: ~/.config/primbus/age.key)")
	return cmd
}

// configKeyring resolves the identity a config file's values are sealed
// with, honouring its secrets.identity setting. A missing file resolves like
// no file.
func configKeyring(cfgPath string) (*secrets.Keyring, error) {
	v := viper.New()
	if cfgPath != "" {
		fv, err := secrets.ReadFile(cfgPath)
		switch {
		case err == nil:
			v = fv
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}
	k, err := secrets.LoadKeyring(v)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return k, nil
}

func readValue(in io.Reader, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newSecretsEncryptCmd() *cobra.Command {
	var (
		recipientKey string
		key          string
	)

	cmd := &cobra.Command{
		Use:   "encrypt <value|->",
		Short: "Seal a credential, optionally writing it into a config file",
		Long: `Seals a value as ENC[...]. Pass - to read it from stdin.

With --key the sealed value is written straight into the --config file under
that key (security.command_secret, nats.token, nats.password or
web.password). The value is sealed to the identity that config resolves, and
refused if that identity cannot open it again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("refusing to seal an empty value")
			}

			if key != "" {
				if secretsConfig == "" {
					return errors.New("--key needs --config naming the file to update")
				}
				if !secrets.IsSecretKey(key) {
					return fmt.Errorf("%q is not a credential key; use one of %s", key, strings.Join(secrets.Keys, ", "))
				}
				if recipientKey != "" {
					return errors.New("--recipient cannot be combined with --key")
				}
				k, err := configKeyring(secretsConfig)
				if err != nil {
					return err
				}
				if k == nil {
					return fmt.Errorf("%s: %w", secretsConfig, secrets.ErrNoIdentity)
				}
				enc, err := k.Seal(value)
				if err != nil {
					return err
				}
				if err := secrets.WriteKey(secretsConfig, strings.ToLower(key), enc); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sealed %s in %s (identity %s)\n", strings.ToLower(key), secretsConfig, k.Source())
				return nil
			}

			var enc string
			if recipientKey != "" {
				r, err := age.ParseX25519Recipient(recipientKey)
				if err != nil {
					return fmt.Errorf("parse recipient: %w", err)
				}
				enc, err = secrets.Encrypt(value, r)
				if err != nil {
					return err
				}
			} else {
				k, err := configKeyring(secretsConfig)
				if err != nil {
					return err
				}
				if k == nil {
					return errors.New("no age key found; run 'primctl secrets keygen' first or use --recipient")
				}
				if enc, err = k.Seal(value); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}

	cmd.Flags().StringVar(&recipientKey, "recipient", "", "age public key to seal for instead of the local identity")
	cmd.Flags().StringVar(&key, "key", "", "config key to write the sealed value into (needs --config)")
	return cmd
}

func newSecretsDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <sealed-value|->",
		Short: "Open an ENC[...] value with the identity of --config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValue(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			k, err := configKeyring(secretsConfig)
			if err != nil {
				return err
			}
			if k == nil {
				return secrets.ErrNoIdentity
			}
			if !secrets.IsEncrypted(value) {
				return errors.New("value is not sealed (missing ENC[...] wrapper)")
			}
			plaintext, err := k.Open(value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return nil
		},
	}
}

func newSecretsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List the credentials in --config and whether each is sealed and opens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secretsConfig == "" {
				return errors.New("check needs --config")
			}
			v, err := secrets.ReadFile(secretsConfig)
			if err != nil {
				return err
			}
			k, err := configKeyring(secretsConfig)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			findings := secrets.Audit(v, k)
			if len(findings) == 0 {
				fmt.Fprintln(out, "no credentials set")
				return nil
			}
			broken := 0
			for _, f := range findings {
				switch f.State {
				case secrets.StateBroken:
					broken++
					fmt.Fprintf(out, "%-28s %s: %v\n", f.Key, f.State, f.Err)
				default:
					fmt.Fprintf(out, "%-28s %s\n", f.Key, f.State)
				}
			}
			if broken > 0 {
				return fmt.Errorf("%d credential(s) cannot be opened", broken)
			}
			return nil
		},
	}
}
