package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/directory"
)

func newDirectoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "directory",
		Aliases: []string{"dir"},
		Short:   "Manage the agent directory",
		Long:    "Registers, lists, looks up and removes agents in the configured directory backend.",
	}

	cmd.AddCommand(newDirectoryRegisterCmd())
	cmd.AddCommand(newDirectoryListCmd())
	cmd.AddCommand(newDirectoryLookupCmd())
	cmd.AddCommand(newDirectoryUnregisterCmd())
	return cmd
}

// withDirectory loads the config, opens the directory and runs fn.
func withDirectory(cmd *cobra.Command, configPath string, fn func(ctx context.Context, st *directory.Stores) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := directory.Open(ctx, cfg.Directory, newLogger(cfg.Log, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func newDirectoryRegisterCmd() *cobra.Command {
	var (
		configPath string
		charge     int
		name       string
	)

	cmd := &cobra.Command{
		Use:   "register <agent-id> <url>",
		Short: "Register or update an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, configPath, func(ctx context.Context, st *directory.Stores) error {
				e := directory.Entry{
					AgentID:       args[0],
					Address:       args[1],
					ServiceCharge: charge,
					DisplayName:   name,
				}
				if err := st.Agents.Register(ctx, e); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s at %s (charge %d)\n", e.AgentID, e.Address, e.ServiceCharge)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().IntVar(&charge, "charge", 0, "service charge per request")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newDirectoryListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, configPath, func(ctx context.Context, st *directory.Stores) error {
				entries, err := st.Agents.List(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No agents registered.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "AGENT\tURL\tCHARGE\tLAST SEEN")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.AgentID, e.Address, e.ServiceCharge, formatSeen(e.LastSeen))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	return cmd
}

func newDirectoryLookupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "lookup <agent-id>",
		Short: "Show one agent's directory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, configPath, func(ctx context.Context, st *directory.Stores) error {
				e, ok, err := st.Agents.GetInfo(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("agent %s not found", args[0])
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Agent:   %s\n", e.AgentID)
				if e.DisplayName != "" {
					fmt.Fprintf(out, "Name:    %s\n", e.DisplayName)
				}
				fmt.Fprintf(out, "URL:     %s\n", e.Address)
				fmt.Fprintf(out, "Charge:  %d\n", e.ServiceCharge)
				fmt.Fprintf(out, "Seen:    %s\n", formatSeen(e.LastSeen))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	return cmd
}

func newDirectoryUnregisterCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "unregister <agent-id>",
		Short: "Remove an agent from the directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, configPath, func(ctx context.Context, st *directory.Stores) error {
				removed, err := st.Agents.Unregister(ctx, args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("agent %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	return cmd
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
