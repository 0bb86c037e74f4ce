package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSubmitCommand() *cobra.Command {
	var (
		file   string
		server string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send a task payload file to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = os.Getenv("TASK_SECRET")
			}
			body, err := withSecret(data, secret)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			url := strings.TrimRight(server, "/") + "/handle-task"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", resp.Status, bytes.TrimSpace(out))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server responded with %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the task payload (JSON)")
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8000", "Base URL of the pagesmith server")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret; overrides the payload's and defaults to $TASK_SECRET")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// withSecret sets the "secret" field of a JSON object payload when secret is non-empty.
func withSecret(payload []byte, secret string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if secret != "" {
		s, _ := json.Marshal(secret)
		obj["secret"] = s
	}
	return json.Marshal(obj)
}
