package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/EternisAI/mailbroker/internal/api/http/dto"
	"github.com/spf13/cobra"
)

// runE adapts a command body that reports its own failures to stderr.
func runE(name string, stderr io.Writer, fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			fmt.Fprintf(stderr, "mailbroker-admin %s: %v\n", name, err) //nolint:errcheck // best-effort stderr
			return errExit
		}
		return nil
	}
}

func newKeysCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate and list activation keys",
	}

	generate := &cobra.Command{
		Use:   "generate COUNT",
		Short: "Generate COUNT new activation keys (1-50)",
		Args:  cobra.ExactArgs(1),
		RunE: runE("keys generate", stderr, func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid count %q", args[0])
			}
			c, err := opts.client()
			if err != nil {
				return err
			}

			var resp dto.GenerateKeysResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/keys", dto.GenerateKeysRequest{Count: count}, &resp); err != nil {
				return err
			}
			for _, code := range resp.Codes {
				fmt.Fprintln(stdout, code) //nolint:errcheck
			}
			return nil
		}),
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List activation keys",
		Args:  cobra.NoArgs,
		RunE: runE("keys list", stderr, func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			path := "/keys"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			var resp dto.ListKeysResponse
			if err := c.do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tCLAIMANT") //nolint:errcheck
			for _, k := range resp.Keys {
				claimant := k.Claimant
				if claimant == "" {
					claimant = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\n", k.Code, claimant) //nolint:errcheck
			}
			return tw.Flush()
		}),
	}
	list.Flags().StringVar(&status, "status", "", "filter by claimed or unclaimed")

	cmd.AddCommand(generate, list)
	return cmd
}

func newUsageCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "usage [REQUESTER_ID]",
		Short: "Show acquisition counts, for everyone or one requester",
		Args:  cobra.MaximumNArgs(1),
		RunE: runE("usage", stderr, func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				var info dto.UsageInfo
				if err := c.do(cmd.Context(), http.MethodGet, "/usage/"+url.PathEscape(args[0]), nil, &info); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s\t%d\n", info.RequesterID, info.Count) //nolint:errcheck
				return nil
			}

			var resp dto.UsageResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/usage", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REQUESTER\tCOUNT") //nolint:errcheck
			for _, r := range resp.Requesters {
				fmt.Fprintf(tw, "%s\t%d\n", r.RequesterID, r.Count) //nolint:errcheck
			}
			fmt.Fprintf(tw, "TOTAL\t%d\n", resp.Total) //nolint:errcheck
			return tw.Flush()
		}),
	}
}

func newMonitorsCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitors",
		Short: "Inspect and clear monitored accounts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts currently being watched",
		Args:  cobra.NoArgs,
		RunE: runE("monitors list", stderr, func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var resp dto.MonitorsResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/monitors", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REQUESTER\tADDRESS") //nolint:errcheck
			for _, m := range resp.Monitors {
				fmt.Fprintf(tw, "%s\t%s\n", m.RequesterID, m.Address) //nolint:errcheck
			}
			return tw.Flush()
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear REQUESTER_ID",
		Short: "Stop watching a requester's account and release it",
		Args:  cobra.ExactArgs(1),
		RunE: runE("monitors clear", stderr, func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var info dto.MonitorInfo
			if err := c.do(cmd.Context(), http.MethodDelete, "/monitors/"+url.PathEscape(args[0]), nil, &info); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Cleared %s for %s\n", info.Address, info.RequesterID) //nolint:errcheck
			return nil
		}),
	}

	cmd.AddCommand(list, clearCmd)
	return cmd
}

func newBroadcastCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast MESSAGE...",
		Short: "Send a message to every activated requester",
		Args:  cobra.MinimumNArgs(1),
		RunE: runE("broadcast", stderr, func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var resp dto.BroadcastResponse
			req := dto.BroadcastRequest{Message: strings.Join(args, " ")}
			if err := c.do(cmd.Context(), http.MethodPost, "/broadcast", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Broadcast %s: %d sent, %d failed, %d total\n", //nolint:errcheck
				resp.ID, resp.Sent, resp.Failed, resp.Total)
			return nil
		}),
	}
}

func newProviderCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Query the upstream mail provider",
	}

	balance := &cobra.Command{
		Use:   "balance",
		Short: "Show the provider account balance",
		Args:  cobra.NoArgs,
		RunE: runE("provider balance", stderr, func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var resp dto.BalanceResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/provider/balance", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(stdout, resp.Balance.String()) //nolint:errcheck
			return nil
		}),
	}

	stock := &cobra.Command{
		Use:   "stock",
		Short: "Show available accounts per mail type",
		Args:  cobra.NoArgs,
		RunE: runE("provider stock", stderr, func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var resp dto.StockResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/provider/stock", nil, &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tAVAILABLE") //nolint:errcheck
			for _, s := range resp.Stock {
				fmt.Fprintf(tw, "%s\t%d\n", s.Type, s.Available) //nolint:errcheck
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(balance, stock)
	return cmd
}
