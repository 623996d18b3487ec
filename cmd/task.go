package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspects crawl tasks locally or through a running server",
	}

	var server string
	var timeout time.Duration
	cmd.PersistentFlags().StringVar(&server, "server", "", "API base URL (default http://localhost:<server.port>)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")

	client := func(ctx context.Context) (*apiClient, error) {
		rt, err := resolveRuntime(ctx)
		if err != nil {
			return nil, err
		}
		base := server
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", rt.cfg.Server.Port)
		}
		return newAPIClient(base, &http.Client{Timeout: timeout})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <task_id>",
			Short: "Prints a task and its repositories from the configured store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				taskID, err := parseTaskID(args[0])
				if err != nil {
					return err
				}
				a, rt, err := buildApp(cmd.Context())
				if err != nil {
					return err
				}
				defer closeApp(a, rt.logger)
				result, err := a.GetOrchestrator().GetTaskResult(cmd.Context(), taskID)
				if err != nil {
					return fmt.Errorf("get task %d: %w", taskID, err)
				}
				return writeJSON(cmd.OutOrStdout(), result)
			},
		},
		&cobra.Command{
			Use:   "request-create <username>",
			Short: "Asks a running server to crawl a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client(cmd.Context())
				if err != nil {
					return err
				}
				body, err := json.Marshal(map[string]string{"name": args[0]})
				if err != nil {
					return fmt.Errorf("encode request: %w", err)
				}
				return c.do(cmd.Context(), http.MethodPost, "/api/v1/codehub/task", body, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "request-get <task_id>",
			Short: "Fetches a task from a running server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				taskID, err := parseTaskID(args[0])
				if err != nil {
					return err
				}
				c, err := client(cmd.Context())
				if err != nil {
					return err
				}
				return c.do(cmd.Context(), http.MethodGet, "/api/v1/codehub/task/"+strconv.FormatInt(taskID, 10), nil, cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

func parseTaskID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return id, nil
}

type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(base string, client *http.Client) (*apiClient, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	return &apiClient{base: strings.TrimSuffix(base, "/"), client: client}, nil
}

// do sends the request and copies a pretty-printed response body to out.
func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out io.Writer) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(payload)
	}
	pretty.WriteByte('\n')
	if _, err := out.Write(pretty.Bytes()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
