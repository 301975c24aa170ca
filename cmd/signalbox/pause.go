package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/messaging"
	"github.com/zulandar/signalbox/internal/pause"
	"github.com/zulandar/signalbox/internal/ttlcache"
	"gorm.io/gorm"
)

// conversationFlags identify a single conversation.
type conversationFlags struct {
	owner    uint
	platform string
	account  string
	peer     string
}

func (f *conversationFlags) register(cmd *cobra.Command) {
	cmd.Flags().UintVar(&f.owner, "owner", 0, "owner id")
	cmd.Flags().StringVar(&f.platform, "platform", "", "messenger or zalo")
	cmd.Flags().StringVar(&f.account, "account", "", "page id or OA id")
	cmd.Flags().StringVar(&f.peer, "peer", "", "customer id")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("peer")
}

func (f *conversationFlags) key() pause.Key {
	return pause.Key{OwnerID: f.owner, Platform: f.platform, AccountID: f.account, PeerID: f.peer}
}

func newPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Inspect or clear conversation pauses",
	}
	cmd.AddCommand(newPauseStatusCmd())
	cmd.AddCommand(newPauseClearCmd())
	return cmd
}

// openPauseStore builds a pause store over the configured database and
// cache backend.
func openPauseStore(flags *configFlags) (*pause.Store, *gorm.DB, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	cache, err := ttlcache.New(cfg.Cache.Backend, gormDB)
	if err != nil {
		return nil, nil, err
	}
	store, err := pause.NewStore(pause.StoreOpts{DB: gormDB, Cache: cache, Logger: logging.Discard()})
	if err != nil {
		return nil, nil, err
	}
	return store, gormDB, nil
}

func newPauseStatusCmd() *cobra.Command {
	var flags configFlags
	var conv conversationFlags
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a conversation is paused and its recent messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, gormDB, err := openPauseStore(&flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			k := conv.key()

			st, err := store.State(cmd.Context(), k)
			if err != nil {
				return err
			}
			if st.Paused {
				fmt.Fprintf(out, "Conversation %s: paused until %s (%s left)\n",
					k, st.Until.Format(time.RFC3339), time.Until(st.Until).Round(time.Second))
			} else {
				fmt.Fprintf(out, "Conversation %s: active\n", k)
			}

			if limit <= 0 {
				return nil
			}
			msgs, err := messaging.Conversation(cmd.Context(), gormDB, k.OwnerID, k.AccountID, k.PeerID, limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "  %s  %-3s %-8s %-9s %s\n",
					m.SentAt.Format(time.RFC3339), m.Direction, m.Origin, m.Status, m.Text)
			}
			return nil
		},
	}

	flags.register(cmd)
	conv.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent messages to show (0 to hide)")
	return cmd
}

func newPauseClearCmd() *cobra.Command {
	var flags configFlags
	var conv conversationFlags

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Resume auto-replies for a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openPauseStore(&flags)
			if err != nil {
				return err
			}
			k := conv.key()
			if err := store.Resume(cmd.Context(), k); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s resumed\n", k)
			return nil
		},
	}

	flags.register(cmd)
	conv.register(cmd)
	return cmd
}
