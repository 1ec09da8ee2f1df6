package main

import (
	"fmt"
	"strings"

	"github.com/nixpig/trainworker/internal/auth"
	"github.com/nixpig/trainworker/internal/certs"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cfg := &config{}

	c := &cobra.Command{
		Use:          "automatord",
		Short:        "gRPC server that runs and tracks batches of training jobs",
		Example:      "  automatord --root /data/experiments --limit 2 --debug",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, newLogger(cfg.debug))
		},
	}

	cfg.bindFlags(c.Flags())

	c.AddCommand(certsCmd())

	c.CompletionOptions.HiddenDefaultCmd = true

	return c
}

func certsCmd() *cobra.Command {
	var (
		out     string
		hosts   []string
		clients []string
	)

	c := &cobra.Command{
		Use:     "certs",
		Short:   "Generate a CA with server and client certificates for mTLS",
		Example: "  automatord certs --out certs --client alice:operator --client bob:viewer",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := certs.Options{Hosts: hosts}

			for _, c := range clients {
				client, err := parseClient(c)
				if err != nil {
					return err
				}

				opts.Clients = append(opts.Clients, client)
			}

			if err := certs.Generate(out, opts); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "certificates written to %s\n", out)

			return nil
		},
	}

	c.Flags().StringVar(&out, "out", "certs", "Directory to write certificates to")

	c.Flags().StringSliceVar(
		&hosts,
		"host",
		[]string{"localhost", "127.0.0.1"},
		"Hosts the server certificate is valid for",
	)

	c.Flags().StringArrayVar(
		&clients,
		"client",
		[]string{"operator:operator", "viewer:viewer"},
		"Client certificate to issue, as NAME:ROLE",
	)

	return c
}

func parseClient(s string) (certs.Client, error) {
	name, role, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return certs.Client{}, fmt.Errorf("client must be NAME:ROLE: %s", s)
	}

	if _, exists := auth.RolePermissions[auth.Role(role)]; !exists {
		return certs.Client{}, fmt.Errorf("unknown role: %s", role)
	}

	return certs.Client{Name: name, Role: role}, nil
}
