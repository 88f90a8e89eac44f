package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/directory"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage MCP tool-server registrations",
		Long:  "Registers and lists the MCP servers reachable as #provider:server tool queries.",
	}

	cmd.AddCommand(newToolsAddCmd())
	cmd.AddCommand(newToolsListCmd())
	return cmd
}

// toolDirectory returns the tool namespace or an error for backends without one.
func toolDirectory(st *directory.Stores) (directory.ToolDirectory, error) {
	if st.Tools == nil {
		return nil, fmt.Errorf("tools: the configured directory backend has no tool registry")
	}
	return st.Tools, nil
}

func newToolsAddCmd() *cobra.Command {
	var (
		configPath string
		transport  string
		rawConfig  string
	)

	cmd := &cobra.Command{
		Use:   "add <provider:server> <endpoint>",
		Short: "Register or update a tool server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, name, ok := strings.Cut(args[0], ":")
			if !ok || provider == "" || name == "" {
				return fmt.Errorf("tool server must be written provider:server, got %q", args[0])
			}
			var srvConfig map[string]any
			if rawConfig != "" {
				if err := json.Unmarshal([]byte(rawConfig), &srvConfig); err != nil {
					return fmt.Errorf("parse --server-config: %w", err)
				}
			}
			return withDirectory(cmd, configPath, func(ctx context.Context, st *directory.Stores) error {
				td, err := toolDirectory(st)
				if err != nil {
					return err
				}
				srv := directory.ToolServer{
					Provider:  provider,
					Name:      name,
					Endpoint:  args[1],
					Config:    srvConfig,
					Transport: transport,
				}
				if err := td.RegisterTool(ctx, srv); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered tool server %s at %s\n", srv.Key(), srv.Endpoint)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().StringVar(&transport, "transport", directory.TransportHTTP, "MCP transport (http or sse)")
	cmd.Flags().StringVar(&rawConfig, "server-config", "", "JSON object passed to the server on connect")
	return cmd
}

func newToolsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tool servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, configPath, func(ctx context.Context, st *directory.Stores) error {
				td, err := toolDirectory(st)
				if err != nil {
					return err
				}
				servers, err := td.ListTools(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(servers) == 0 {
					fmt.Fprintln(out, "No tool servers registered.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERVER\tTRANSPORT\tENDPOINT")
				for _, s := range servers {
					tr := s.Transport
					if tr == "" {
						tr = directory.TransportHTTP
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Key(), tr, s.Endpoint)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	return cmd
}
