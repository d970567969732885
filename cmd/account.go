package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Davincible/chatgate/internal/store"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage provider accounts",
	Long:  `Register and inspect the provider accounts the gateway multiplexes.`,
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a provider account",
	Long:  `Register a provider account with its credential. The credential format is provider-specific: a cookie string, a session token, or an OAuth token JSON blob.`,
	RunE:  runAccountAdd,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE:  runAccountList,
}

var accountModelCmd = &cobra.Command{
	Use:   "model <provider> <model> <sequence>",
	Short: "Set a model preference sequence",
	Long:  `Record a model in the preference order consulted for "auto" model selection. Lower sequence numbers win.`,
	Args:  cobra.ExactArgs(3),
	RunE:  runAccountModel,
}

func init() {
	accountAddCmd.Flags().String("provider", "", "provider name (deepseek, qwen, glm)")
	accountAddCmd.Flags().String("email", "", "account email or login")
	accountAddCmd.Flags().String("credential", "", "credential blob; prompted when omitted")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountModelCmd)
}

func openStore() (*store.SQLiteStore, error) {
	cfg := cfgMgr.Get()

	return store.NewSQLiteStore(cfg.DatabasePath)
}

func runAccountAdd(cmd *cobra.Command, _ []string) error {
	providerName, _ := cmd.Flags().GetString("provider")
	email, _ := cmd.Flags().GetString("email")
	credential, _ := cmd.Flags().GetString("credential")

	reader := bufio.NewReader(os.Stdin)

	if providerName == "" {
		fmt.Printf("Provider (%s): ", strings.Join(knownProviders, ", "))
		providerName, _ = reader.ReadString('\n')
		providerName = strings.TrimSpace(providerName)
	}

	if !isKnownProvider(providerName) {
		return fmt.Errorf("unknown provider %q", providerName)
	}

	if email == "" {
		fmt.Print("Email: ")
		email, _ = reader.ReadString('\n')
		email = strings.TrimSpace(email)
	}

	if credential == "" {
		fmt.Print("Credential: ")
		credential, _ = reader.ReadString('\n')
		credential = strings.TrimSpace(credential)
	}

	if credential == "" {
		return fmt.Errorf("credential is required")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	acct := store.Account{
		ID:         uuid.NewString(),
		Provider:   providerName,
		Email:      email,
		Credential: credential,
		CreatedAt:  time.Now().UTC(),
	}

	// Re-registering an existing provider/email pair updates the
	// credential instead of creating a duplicate.
	if existing, err := db.FindByProviderEmail(providerName, email); err != nil {
		return err
	} else if existing != nil {
		acct.ID = existing.ID
		acct.CreatedAt = existing.CreatedAt
	}

	if err := db.Upsert(acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	color.Green("Account %s registered for %s", acct.ID, providerName)

	return nil
}

func runAccountList(cmd *cobra.Command, _ []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	accounts, err := db.List()
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		color.Yellow("No accounts registered. Run '%s account add' to register one.", AppName)
		return nil
	}

	color.Blue("Registered accounts:")

	for _, acct := range accounts {
		fmt.Printf("  %-36s  %-10s  %-30s  %s\n",
			acct.ID, acct.Provider, acct.Email, acct.CreatedAt.Format(time.DateOnly))
	}

	return nil
}

func runAccountModel(cmd *cobra.Command, args []string) error {
	providerName, model := args[0], args[1]

	sequence, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid sequence %q", args[2])
	}

	if !isKnownProvider(providerName) {
		return fmt.Errorf("unknown provider %q", providerName)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetSequence(store.SequenceEntry{
		Provider: providerName,
		Model:    model,
		Sequence: sequence,
	}); err != nil {
		return fmt.Errorf("save model sequence: %w", err)
	}

	color.Green("Model %s/%s recorded at sequence %d", providerName, model, sequence)

	return nil
}
