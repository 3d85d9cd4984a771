package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// NewMessageCommand constructs the `message` command group and subcommands.
func NewMessageCommand(baseURL BaseURLFunc) *cobra.Command {
	messageCmd := &cobra.Command{Use: "message", Short: "Message operations"}

	messageCmd.AddCommand(
		newMessagePostCommand(baseURL),
		newMessageListCommand(baseURL),
		newMessageGetCommand(baseURL),
		newMessageDeleteCommand(baseURL),
		newMessagePopCommand(baseURL),
	)

	return messageCmd
}

func messagesPath(queue string) string {
	return "/v2/queues/" + url.PathEscape(queue) + "/messages"
}

func newMessagePostCommand(baseURL BaseURLFunc) *cobra.Command {
	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Post messages to a queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			bodies, _ := cmd.Flags().GetStringArray("body")
			ttl, _ := cmd.Flags().GetInt64("ttl")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			if len(bodies) == 0 {
				return fmt.Errorf("at least one --body is required")
			}
			type postMessage struct {
				TTL  int64           `json:"ttl,omitempty"`
				Body json.RawMessage `json:"body"`
			}
			batch := make([]postMessage, 0, len(bodies))
			for _, raw := range bodies {
				if !json.Valid([]byte(raw)) {
					return fmt.Errorf("--body must be valid JSON: %q", raw)
				}
				batch = append(batch, postMessage{TTL: ttl, Body: json.RawMessage(raw)})
			}
			var out map[string]any
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodPost, messagesPath(queue), batch, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	postCmd.Flags().StringP("queue", "q", "", "Queue name")
	postCmd.Flags().StringArray("body", nil, "Message body as JSON (repeatable)")
	postCmd.Flags().Int64("ttl", 0, "Message TTL in seconds (0 = server default)")
	return postCmd
}

func newMessageListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List free messages in a queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			marker, _ := cmd.Flags().GetUint64("marker")
			limit, _ := cmd.Flags().GetInt("limit")
			echo, _ := cmd.Flags().GetBool("echo")
			includeClaimed, _ := cmd.Flags().GetBool("include-claimed")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			q := url.Values{}
			if marker > 0 {
				q.Set("marker", fmt.Sprint(marker))
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			if echo {
				q.Set("echo", "true")
			}
			if includeClaimed {
				q.Set("include_claimed", "true")
			}
			path := messagesPath(queue)
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
	listCmd.Flags().StringP("queue", "q", "", "Queue name")
	listCmd.Flags().Uint64("marker", 0, "Resume listing after this marker")
	listCmd.Flags().Int("limit", 0, "Maximum messages per page")
	listCmd.Flags().Bool("echo", false, "Include messages posted by this client")
	listCmd.Flags().Bool("include-claimed", false, "Include claimed messages")
	return listCmd
}

func newMessageGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a single message by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			var out map[string]any
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodGet, messagesPath(queue)+"/"+url.PathEscape(args[0]), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	getCmd.Flags().StringP("queue", "q", "", "Queue name")
	return getCmd
}

func newMessageDeleteCommand(baseURL BaseURLFunc) *cobra.Command {
	deleteCmd := &cobra.Command{
		Use:   "delete <id> [id...]",
		Short: "Delete messages by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			claimID, _ := cmd.Flags().GetString("claim-id")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			var path string
			if len(args) == 1 {
				path = messagesPath(queue) + "/" + url.PathEscape(args[0])
				if claimID != "" {
					path += "?claim_id=" + url.QueryEscape(claimID)
				}
			} else {
				if claimID != "" {
					return fmt.Errorf("--claim-id applies to single-message deletes only")
				}
				path = messagesPath(queue) + "?ids=" + url.QueryEscape(strings.Join(args, ","))
			}
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodDelete, path, nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
	deleteCmd.Flags().StringP("queue", "q", "", "Queue name")
	deleteCmd.Flags().String("claim-id", "", "Claim guarding the message")
	return deleteCmd
}

func newMessagePopCommand(baseURL BaseURLFunc) *cobra.Command {
	popCmd := &cobra.Command{
		Use:   "pop",
		Short: "Atomically remove and return the oldest free messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			count, _ := cmd.Flags().GetInt("count")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			var out map[string]any
			path := messagesPath(queue) + "?pop=" + fmt.Sprint(count)
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodDelete, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	popCmd.Flags().StringP("queue", "q", "", "Queue name")
	popCmd.Flags().Int("count", 1, "Number of messages to pop")
	return popCmd
}
