package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/chatbot"
	"github.com/zulandar/signalbox/internal/credentials"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage chatbot API keys",
	}
	cmd.AddCommand(newCredentialsSetCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var flags configFlags
	var owner uint
	var bot, apiKey string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an owner's API key for a chatbot",
		Long:  "Stores the key encrypted with credentials.master_key. An existing key for the same owner and bot is replaced.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch chatbot.Bot(bot) {
			case chatbot.Mobile, chatbot.Custom:
			default:
				return fmt.Errorf("--bot must be %s or %s", chatbot.Mobile, chatbot.Custom)
			}
			if apiKey == "" {
				return fmt.Errorf("--api-key must not be empty")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			gormDB, err := openDB(cfg)
			if err != nil {
				return err
			}
			store, err := credentials.NewStore(gormDB, cfg.Credentials.MasterKey)
			if err != nil {
				return err
			}
			if err := store.Put(cmd.Context(), owner, bot, apiKey); err != nil {
				return err
			}
			if cfg.Credentials.MasterKey == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning: credentials.master_key is empty, key stored unencrypted")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key for owner %d\n", bot, owner)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().UintVar(&owner, "owner", 0, "owner id")
	cmd.Flags().StringVar(&bot, "bot", "", "mobile or custom")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "chatbot API key")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("bot")
	cmd.MarkFlagRequired("api-key")
	return cmd
}
