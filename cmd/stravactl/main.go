// stravactl manages the provider-side webhook subscription for a deployment.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runnershigh/stravasync/internal/config"
	"github.com/runnershigh/stravasync/internal/strava"
)

func main() {
	root := &cobra.Command{
		Use:           "stravactl",
		Short:         "Operate the provider webhook subscription",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSubscriptionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Create, list and delete webhook push subscriptions",
	}
	cmd.AddCommand(newSubscriptionCreateCmd(), newSubscriptionListCmd(), newSubscriptionDeleteCmd())
	return cmd
}

func newSubscriptionCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Register the deployment's /webhook endpoint with the provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := setup()
			if err != nil {
				return err
			}

			callback := strings.TrimRight(cfg.CallbackURL, "/") + "/webhook"
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			sub, err := client.CreateSubscription(ctx, cfg.StravaClientID, cfg.StravaClientSecret, callback, cfg.VerifyToken)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created subscription %d -> %s\n", sub.ID, sub.CallbackURL)
			return nil
		},
	}
}

func newSubscriptionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the push subscriptions registered for this application",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			subs, err := client.ListSubscriptions(ctx, cfg.StravaClientID, cfg.StravaClientSecret)
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no subscriptions registered")
				return nil
			}
			for _, sub := range subs {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", sub.ID, sub.CallbackURL, sub.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newSubscriptionDeleteCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a push subscription by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == 0 {
				return fmt.Errorf("--id is required")
			}
			cfg, client, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := client.DeleteSubscription(ctx, cfg.StravaClientID, cfg.StravaClientSecret, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted subscription %d\n", id)
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "subscription id to delete")
	return cmd
}

func setup() (config.Config, *strava.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, strava.NewClient(cfg.StravaAPIBaseURL), nil
}
