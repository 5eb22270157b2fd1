package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/wsfetch/internal/errors"
	"github.com/3leaps/wsfetch/internal/observability"
	"github.com/3leaps/wsfetch/internal/server/handlers"
	"github.com/3leaps/wsfetch/pkg/intake"
	"github.com/3leaps/wsfetch/pkg/queue"
)

var (
	queueServer string
	queueName   string
	queueOutput string
	queueRetry  bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the queue of a running server",
	Long: `Talk to a running 'wsfetch serve' instance.

Examples:
  wsfetch queue add 4000:123456 --name Arena
  wsfetch queue add "https://steamcommunity.com/sharedfiles/filedetails/?id=123456"
  wsfetch queue list
  wsfetch queue list --output json
  wsfetch queue add --retry <job-id>`,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <ref-or-url | job-id>",
	Short: "Enqueue a source, or retry a failed job with --retry",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued jobs",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)

	queueCmd.PersistentFlags().StringVar(&queueServer, "server", "http://localhost:8080", "Base URL of the wsfetch server")
	queueAddCmd.Flags().StringVarP(&queueName, "name", "n", "", "Display name")
	queueAddCmd.Flags().BoolVar(&queueRetry, "retry", false, "Treat the argument as a failed job id to retry")
	queueListCmd.Flags().StringVarP(&queueOutput, "output", "o", "table", "Output format (table|json)")
}

// apiClient is a small JSON client for the serve API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx response into out. Error bodies are
// decoded into the API's error envelope.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var env apperrors.HTTPErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error.Code != "" {
			return &apiError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
		}
		return &apiError{Status: resp.StatusCode, Message: resp.Status}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// clientExitError maps request failures to exit codes.
func clientExitError(message string, err error) error {
	var ae *apiError
	if errors.As(err, &ae) && ae.Status < 500 {
		return exitError(foundry.ExitInvalidArgument, message, err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, message, err)
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	client := newAPIClient(queueServer)

	var resp handlers.IDResponse
	var err error
	if queueRetry {
		err = client.do(cmd.Context(), http.MethodPost, "/queue/"+args[0]+"/retry", nil, &resp)
	} else {
		err = client.do(cmd.Context(), http.MethodPost, "/queue", intake.Request{Source: args[0], Name: queueName}, &resp)
	}
	if err != nil {
		observability.CLILogger.Error("Enqueue failed", zap.String("server", queueServer), zap.Error(err))
		return clientExitError("Failed to enqueue", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.ID)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	if queueOutput != "table" && queueOutput != "json" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected table or json"))
	}

	var jobs []queue.Job
	if err := newAPIClient(queueServer).do(cmd.Context(), http.MethodGet, "/queue", nil, &jobs); err != nil {
		observability.CLILogger.Error("List failed", zap.String("server", queueServer), zap.Error(err))
		return clientExitError("Failed to list queue", err)
	}

	if queueOutput == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	printJobsTable(cmd.OutOrStdout(), jobs)
	return nil
}

func printJobsTable(out io.Writer, jobs []queue.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tNAME\tSTATUS\tCREATED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.ID,
			j.SourceRef.String(),
			j.Name,
			j.Status.String(),
			j.CreatedAt.Format(time.RFC3339),
		)
	}
}
