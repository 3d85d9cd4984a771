package client

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewClaimCommand constructs the `claim` command group and subcommands.
func NewClaimCommand(baseURL BaseURLFunc) *cobra.Command {
	claimCmd := &cobra.Command{Use: "claim", Short: "Claim operations"}

	claimCmd.AddCommand(
		newClaimCreateCommand(baseURL),
		newClaimGetCommand(baseURL),
		newClaimRenewCommand(baseURL),
		newClaimReleaseCommand(baseURL),
	)

	return claimCmd
}

func claimsPath(queue string) string {
	return "/v2/queues/" + url.PathEscape(queue) + "/claims"
}

type claimBody struct {
	TTL   int64 `json:"ttl"`
	Grace int64 `json:"grace"`
	Limit int   `json:"limit,omitempty"`
}

func newClaimCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Claim the oldest free messages in a queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			ttl, _ := cmd.Flags().GetInt64("ttl")
			grace, _ := cmd.Flags().GetInt64("grace")
			limit, _ := cmd.Flags().GetInt("limit")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			var out map[string]any
			status, err := doJSON(cmd.Context(), baseURL, http.MethodPost, claimsPath(queue), claimBody{TTL: ttl, Grace: grace, Limit: limit}, &out)
			if err != nil {
				return err
			}
			if status == http.StatusNoContent {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no messages to claim")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	createCmd.Flags().StringP("queue", "q", "", "Queue name")
	createCmd.Flags().Int64("ttl", 300, "Claim TTL in seconds")
	createCmd.Flags().Int64("grace", 60, "Message lifetime extension in seconds")
	createCmd.Flags().Int("limit", 0, "Maximum messages to claim")
	return createCmd
}

func newClaimGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get <claim-id>",
		Short: "Show a claim and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			var out map[string]any
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodGet, claimsPath(queue)+"/"+url.PathEscape(args[0]), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	getCmd.Flags().StringP("queue", "q", "", "Queue name")
	return getCmd
}

func newClaimRenewCommand(baseURL BaseURLFunc) *cobra.Command {
	renewCmd := &cobra.Command{
		Use:   "renew <claim-id>",
		Short: "Extend a live claim's TTL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			ttl, _ := cmd.Flags().GetInt64("ttl")
			grace, _ := cmd.Flags().GetInt64("grace")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			path := claimsPath(queue) + "/" + url.PathEscape(args[0])
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodPatch, path, claimBody{TTL: ttl, Grace: grace}, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "renewed")
			return nil
		},
	}
	renewCmd.Flags().StringP("queue", "q", "", "Queue name")
	renewCmd.Flags().Int64("ttl", 300, "New claim TTL in seconds")
	renewCmd.Flags().Int64("grace", 60, "Message lifetime extension in seconds")
	return renewCmd
}

func newClaimReleaseCommand(baseURL BaseURLFunc) *cobra.Command {
	releaseCmd := &cobra.Command{
		Use:   "release <claim-id>",
		Short: "Release a claim, returning its messages to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			if queue == "" {
				return fmt.Errorf("--queue is required")
			}
			if _, err := doJSON(cmd.Context(), baseURL, http.MethodDelete, claimsPath(queue)+"/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "released")
			return nil
		},
	}
	releaseCmd.Flags().StringP("queue", "q", "", "Queue name")
	return releaseCmd
}
