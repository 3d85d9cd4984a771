package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}

	queueCmd.AddCommand(
		newQueueCreateCommand(baseURL),
		newQueueListCommand(baseURL),
		newQueueDeleteCommand(baseURL),
		newQueueStatsCommand(baseURL),
		newQueueMetadataCommand(baseURL),
	)

	return queueCmd
}

func newQueueCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadataRaw, _ := cmd.Flags().GetString("metadata")
			var metadata map[string]any
			if metadataRaw != "" {
				if err := json.Unmarshal([]byte(metadataRaw), &metadata); err != nil {
					return fmt.Errorf("invalid --metadata: %w", err)
				}
			}
			status, err := doJSON(cmd.Context(), baseURL, http.MethodPut, "/v2/queues/"+url.PathEscape(args[0]), metadata, nil)
			if err != nil {
				return err
			}
			if status == http.StatusCreated {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "created")
			} else {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "exists")
			}
			return nil
		},
	}
	createCmd.Flags().String("metadata", "", "Queue metadata as a JSON object")
	return createCmd
}

func newQueueListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queues in the current project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			marker, _ := cmd.Flags().GetString("marker")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if marker != "" {
				q.Set("marker", marker)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/v2/queues"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var out map[string]any
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	listCmd.Flags().String("marker", "", "Resume listing after this queue name")
	listCmd.Flags().Int("limit", 0, "Maximum queues per page")
	return listCmd
}

func newQueueDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a queue and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodDelete, "/v2/queues/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
}

func newQueueStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <name>",
		Short: "Show message counts and head/tail ages for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodGet, "/v2/queues/"+url.PathEscape(args[0])+"/stats", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newQueueMetadataCommand(baseURL BaseURLFunc) *cobra.Command {
	metadataCmd := &cobra.Command{
		Use:   "metadata <name>",
		Short: "Get or set queue metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setRaw, _ := cmd.Flags().GetString("set")
			path := "/v2/queues/" + url.PathEscape(args[0]) + "/metadata"
			if setRaw != "" {
				var metadata map[string]any
				if err := json.Unmarshal([]byte(setRaw), &metadata); err != nil {
					return fmt.Errorf("invalid --set: %w", err)
				}
				if _, err := doJSON(cmd.Context(), baseURL, http.MethodPut, path, metadata, nil); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "updated")
				return nil
			}
			var out map[string]any
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodGet, "/v2/queues/"+url.PathEscape(args[0]), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	metadataCmd.Flags().String("set", "", "Replace metadata with this JSON object")
	return metadataCmd
}
