package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/Strob0t/ChainForge/internal/adapter/postgres"
	"github.com/Strob0t/ChainForge/internal/config"
	"github.com/Strob0t/ChainForge/internal/domain/provider"
	"github.com/Strob0t/ChainForge/internal/port/database"
)

// Settings keys used by the admin bootstrap. The sealed key is AES-GCM
// ciphertext; the digest lets a later invocation verify the passphrase
// before attempting to decrypt.
const (
	settingSealedProviderKey = "provider.api_key.sealed"
	settingProviderKeyDigest = "provider.api_key.digest"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "seal-provider-key":
		return runAdminSealProviderKey(args[1:])
	case "show-provider-key":
		return runAdminShowProviderKey(args[1:])
	case "list-settings":
		return runAdminListSettings(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: chainforge admin <command> [options]

Commands:
  seal-provider-key   Encrypt a provider API key and store it in settings
  show-provider-key   Verify the passphrase and print the masked key
  list-settings       List all stored settings overrides
  help                Show this help message

Examples:
  chainforge admin seal-provider-key
  chainforge admin show-provider-key
  chainforge admin list-settings
`)
}

func loadAdminStore() (database.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	return postgres.NewStore(pool), func() { pool.Close() }, nil
}

func runAdminSealProviderKey(args []string) error {
	fs := flag.NewFlagSet("seal-provider-key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	apiKey, err := promptSecret("Provider API key: ")
	if err != nil {
		return fmt.Errorf("read api key: %w", err)
	}
	if apiKey == "" {
		return fmt.Errorf("api key must not be empty")
	}

	passphrase, err := promptSecret("Encryption passphrase: ")
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	confirm, err := promptSecret("Confirm passphrase: ")
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	if passphrase != confirm {
		return fmt.Errorf("passphrases do not match")
	}

	sealed, err := provider.Encrypt([]byte(apiKey), provider.DeriveKey(passphrase))
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash passphrase: %w", err)
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	sealedJSON, _ := json.Marshal(base64.StdEncoding.EncodeToString(sealed))
	if err := store.UpsertSetting(ctx, settingSealedProviderKey, sealedJSON); err != nil {
		return fmt.Errorf("store sealed key: %w", err)
	}
	digestJSON, _ := json.Marshal(string(digest))
	if err := store.UpsertSetting(ctx, settingProviderKeyDigest, digestJSON); err != nil {
		return fmt.Errorf("store digest: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Provider key sealed and stored.")
	return nil
}

func runAdminShowProviderKey(args []string) error {
	fs := flag.NewFlagSet("show-provider-key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	digestSetting, err := store.GetSetting(ctx, settingProviderKeyDigest)
	if err != nil {
		return fmt.Errorf("no sealed provider key stored: %w", err)
	}
	var digest string
	if err := json.Unmarshal(digestSetting.Value, &digest); err != nil {
		return fmt.Errorf("decode digest: %w", err)
	}

	passphrase, err := promptSecret("Encryption passphrase: ")
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(passphrase)); err != nil {
		return fmt.Errorf("wrong passphrase")
	}

	sealedSetting, err := store.GetSetting(ctx, settingSealedProviderKey)
	if err != nil {
		return fmt.Errorf("load sealed key: %w", err)
	}
	var encoded string
	if err := json.Unmarshal(sealedSetting.Value, &encoded); err != nil {
		return fmt.Errorf("decode sealed key: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode sealed key: %w", err)
	}

	plain, err := provider.Decrypt(sealed, provider.DeriveKey(passphrase))
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Provider key: %s\n", mask(string(plain)))
	return nil
}

func runAdminListSettings(args []string) error {
	fs := flag.NewFlagSet("list-settings", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	stored, err := store.ListSettings(context.Background())
	if err != nil {
		return fmt.Errorf("list settings: %w", err)
	}
	if len(stored) == 0 {
		fmt.Println("No settings overrides stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
	for i := range stored {
		value := string(stored[i].Value)
		if stored[i].Key == settingSealedProviderKey || stored[i].Key == settingProviderKeyDigest {
			value = "<sealed>"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", stored[i].Key, value, stored[i].UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

// mask hides all but the first and last four characters of a secret.
func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// promptSecret reads a value from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
