package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	api "github.com/nixpig/trainworker/api/v1"
	"github.com/nixpig/trainworker/internal/experiment"
	"github.com/nixpig/trainworker/internal/tlsconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const version = "0.1.0"

type config struct {
	serverAddr string
	serverName string
	stateDir   string
	caCertPath string
	certPath   string
	keyPath    string
}

// addr returns the server address from the flag, or else from the address
// file the server writes on start up.
func (c *config) addr() (string, error) {
	if c.serverAddr != "" {
		return c.serverAddr, nil
	}

	data, err := os.ReadFile(filepath.Join(c.stateDir, "addr"))
	if err != nil {
		return "", fmt.Errorf("no --server-addr and no address file: %w", err)
	}

	addr := strings.TrimSpace(string(data))
	if addr == "" {
		return "", errors.New("address file is empty")
	}

	return addr, nil
}

func (c *config) credentials() (credentials.TransportCredentials, error) {
	tlsCfg := &tlsconfig.Config{
		CertPath:   c.certPath,
		KeyPath:    c.keyPath,
		CACertPath: c.caCertPath,
		ServerName: c.serverName,
	}

	if !tlsCfg.Enabled() {
		return insecure.NewCredentials(), nil
	}

	if err := tlsCfg.Validate(); err != nil {
		return nil, err
	}

	tlsConfig, err := tlsconfig.SetupTLS(tlsCfg)
	if err != nil {
		return nil, err
	}

	return credentials.NewTLS(tlsConfig), nil
}

type cli struct {
	client api.AutomatorServiceClient
	conn   *grpc.ClientConn
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	cfg := &config{}

	command := &cobra.Command{
		Use:          "automatorctl",
		Short:        "CLI for interacting with the automator server",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cfg.addr()
			if err != nil {
				return err
			}

			creds, err := cfg.credentials()
			if err != nil {
				return err
			}

			c.conn, err = grpc.NewClient(
				addr,
				grpc.WithTransportCredentials(creds),
			)
			if err != nil {
				return err
			}

			c.client = api.NewAutomatorServiceClient(c.conn)

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.conn == nil {
				return nil
			}

			// Connection needs to remain open for duration of any child commands.
			return c.conn.Close()
		},
	}

	command.AddCommand(
		c.submitCmd(),
		c.statusCmd(),
		c.killCmd(),
		c.killAllCmd(),
		c.terminateCmd(),
		c.logsCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&cfg.serverAddr,
		"server-addr",
		"",
		"Server address (defaults to the address file in --state-dir)",
	)

	command.PersistentFlags().StringVar(
		&cfg.stateDir,
		"state-dir",
		defaultStateDir(),
		"Directory the server writes its address file to",
	)

	command.PersistentFlags().StringVar(
		&cfg.serverName,
		"server-name",
		"localhost",
		"Server name to verify the server certificate against",
	)

	command.PersistentFlags().StringVar(
		&cfg.certPath,
		"cert-path",
		"",
		"Path to client TLS certificate",
	)

	command.PersistentFlags().StringVar(
		&cfg.keyPath,
		"key-path",
		"",
		"Path to client TLS private key",
	)

	command.PersistentFlags().StringVar(
		&cfg.caCertPath,
		"ca-cert-path",
		"",
		"Path to CA certificate for mTLS",
	)

	return command
}

func (c *cli) submitCmd() *cobra.Command {
	var (
		replaceMode string
		noRun       bool
	)

	command := &cobra.Command{
		Use:     "submit [flags] BATCH_FILE",
		Short:   "Submit a batch of experiments",
		Example: "  automatorctl submit --replace-mode reuse experiments.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := experiment.ParseReplaceMode(replaceMode); err != nil {
				return err
			}

			// The server reads the batch file, so it needs a path that doesn't
			// depend on our working directory.
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			req, err := (&api.SubmitRequest{
				Path:        path,
				ReplaceMode: replaceMode,
				NoRun:       noRun,
			}).ToProto()
			if err != nil {
				return err
			}

			resp, err := c.client.Submit(cmd.Context(), req)
			if err != nil {
				return mapError(err)
			}

			for _, id := range api.IDsFromProto(resp) {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}

			return nil
		},
	}

	command.Flags().StringVar(
		&replaceMode,
		"replace-mode",
		experiment.ReplaceFresh.String(),
		"What to do with existing output: fresh, reuse or reuse-configs",
	)

	command.Flags().BoolVar(
		&noRun,
		"no-run",
		false,
		"Prepare job directories without running the jobs",
	)

	return command
}

func (c *cli) statusCmd() *cobra.Command {
	var (
		interval time.Duration
		headers  bool
	)

	command := &cobra.Command{
		Use:     "status [flags]",
		Short:   "Show the status of live jobs",
		Example: "  automatorctl status --interval 5s",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for {
				resp, err := c.client.Status(cmd.Context(), &emptypb.Empty{})
				if err != nil {
					if interval > 0 && status.Code(err) == codes.Canceled {
						return nil
					}

					return mapError(err)
				}

				statuses, err := api.StatusFromProto(resp)
				if err != nil {
					return err
				}

				writeStatusTable(
					cmd.OutOrStdout(),
					statuses,
					headers || isTerminal(cmd.OutOrStdout()),
				)

				if interval <= 0 {
					return nil
				}

				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(interval):
				}

				fmt.Fprintln(cmd.OutOrStdout())
			}
		},
	}

	command.Flags().DurationVar(
		&interval,
		"interval",
		0,
		"Refresh the status at this interval until interrupted",
	)

	command.Flags().BoolVar(
		&headers,
		"headers",
		false,
		"Print column headers even when output isn't a terminal",
	)

	return command
}

func (c *cli) killCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "kill [flags] INDEX",
		Short:   "Kill the job at INDEX in the status listing",
		Example: "  automatorctl kill 0",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			if _, err := c.client.Kill(
				cmd.Context(),
				wrapperspb.Int64(index),
			); err != nil {
				return mapError(err)
			}

			return nil
		},
	}

	return command
}

func (c *cli) killAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill-all",
		Short: "Kill every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.client.KillAll(
				cmd.Context(),
				&emptypb.Empty{},
			); err != nil {
				return mapError(err)
			}

			return nil
		},
	}
}

func (c *cli) terminateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate",
		Short: "Kill every job and stop the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.client.Terminate(
				cmd.Context(),
				&emptypb.Empty{},
			); err != nil {
				return mapError(err)
			}

			return nil
		},
	}
}

func (c *cli) logsCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "logs [flags] INDEX",
		Short:   "Stream the training log of the job at INDEX",
		Example: "  automatorctl logs 0",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			stream, err := c.client.StreamLog(
				cmd.Context(),
				wrapperspb.Int64(index),
			)
			if err != nil {
				return mapError(err)
			}

			for {
				resp, err := stream.Recv()
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}

					if status.Code(err) == codes.Canceled {
						break
					}

					return mapError(err)
				}

				cmd.OutOrStdout().Write(resp.GetValue())
			}

			return nil
		},
	}

	return command
}

// isTerminal reports whether out is a terminal.
func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// writeStatusTable writes one row per watched value, so a job watching two
// metrics takes two rows.
func writeStatusTable(
	out io.Writer,
	statuses []api.WorkerStatus,
	headers bool,
) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if headers {
		fmt.Fprintf(w, "INDEX\tID\tSTATUS\tPATH\tDESCRIPTION\tITER\tNAME\tVALUE\t\n")
	}

	for _, st := range statuses {
		iter := fmt.Sprintf("%d / %d", st.Iteration, st.MaxIteration)

		name, value := "", ""
		if len(st.Watch) > 0 && len(st.Watched) > 0 {
			name, value = st.Watch[0], formatValue(st.Watched[0])
		}

		fmt.Fprintf(
			w,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			st.Index,
			st.ID,
			mapStatus(st),
			st.Path,
			st.Description,
			iter,
			name,
			value,
		)

		for i := 1; i < len(st.Watch) && i < len(st.Watched); i++ {
			fmt.Fprintf(
				w,
				"\t\t\t\t\t\t%s\t%s\t\n",
				st.Watch[i],
				formatValue(st.Watched[i]),
			)
		}
	}

	w.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// mapStatus adds why a finished job stopped to its status.
func mapStatus(st api.WorkerStatus) string {
	switch {
	case st.Status != "FINISHED":
		return st.Status
	case st.Error != "":
		return "FINISHED (error)"
	case st.Interrupted:
		return "FINISHED (killed)"
	case st.ExitCode > 0:
		return fmt.Sprintf("FINISHED (exit %d)", st.ExitCode)
	default:
		return st.Status
	}
}

func parseIndex(s string) (int64, error) {
	index, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("index must be a number: %s", s)
	}

	return index, nil
}

// mapError translates gRPC errors to human-readable messages.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.OutOfRange:
		return fmt.Errorf("no such job: %s", st.Message())
	case codes.PermissionDenied:
		return errors.New("permission denied")
	case codes.Unauthenticated:
		return errors.New("not authenticated")
	case codes.Unavailable:
		return errors.New("server unavailable")
	default:
		return errors.New(st.Message())
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".automator"
	}

	return filepath.Join(home, ".automator")
}
