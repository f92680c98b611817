package tourwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/igorsilveira/tourwatch/pkg/audit"
	"github.com/igorsilveira/tourwatch/pkg/config"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the encrypted live feed token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [value]",
	Short: "Store a token (prompts when no value is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTokenSet,
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a stored token",
	Args:  cobra.NoArgs,
	RunE:  runTokenDelete,
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential names",
	Args:  cobra.NoArgs,
	RunE:  runTokenList,
}

var tokenName string

func init() {
	for _, c := range []*cobra.Command{tokenSetCmd, tokenDeleteCmd} {
		c.Flags().StringVar(&tokenName, "name", "", "credential name (default: live.token_name)")
	}
	tokenCmd.AddCommand(tokenSetCmd, tokenDeleteCmd, tokenListCmd)
}

func resolveTokenName(cfg *config.Config) string {
	if tokenName != "" {
		return tokenName
	}
	return cfg.Live.TokenName
}

func runTokenSet(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	name := resolveTokenName(cfg)

	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		err := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Token for %q", name)).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token must not be empty")
					}
					return nil
				}).
				Value(&value),
		)).Run()
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("token must not be empty")
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	creds, err := requireCredentials(cfg, db)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := creds.Set(ctx, name, value); err != nil {
		return err
	}
	logTokenChange(ctx, db.DB(), audit.EventCredSet, cfg, name)

	fmt.Printf("stored %q\n", name)
	return nil
}

func runTokenDelete(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	name := resolveTokenName(cfg)

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	creds, err := requireCredentials(cfg, db)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := creds.Delete(ctx, name); err != nil {
		return err
	}
	logTokenChange(ctx, db.DB(), audit.EventCredDel, cfg, name)

	fmt.Printf("deleted %q\n", name)
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	creds, err := requireCredentials(cfg, db)
	if err != nil {
		return err
	}

	names, err := creds.List(context.Background())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No stored credentials.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}
