package main

import (
	"fmt"
	"sort"

	"agentrelay/internal/config"
	"agentrelay/internal/domain"
	"agentrelay/internal/session"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reset persisted agent sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List channel → session mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			channels := make([]string, 0, len(sessions))
			for ch := range sessions {
				channels = append(channels, ch)
			}
			sort.Strings(channels)
			for _, ch := range channels {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ch, sessions[ch])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [channel-id]",
		Short: "Forget the session of a channel so the next message starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session cleared for %s.\n", args[0])
			return nil
		},
	})

	return cmd
}

// openSessionStore opens the store named by the config. A missing or invalid
// config falls back to the default file store, since the store is still
// useful without Discord credentials.
func openSessionStore() (domain.SessionStore, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not loaded, using default session store", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	return session.Open(cfg.Sessions.Backend, cfg.Sessions.Path, logger)
}
