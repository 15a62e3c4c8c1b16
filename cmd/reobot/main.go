// Command reobot is the REO eligibility notification bot.
//
// Usage:
//
//	reobot bot                     # Telegram command bot (long polling)
//	reobot notify [--detailed]     # run today's batch once
//	reobot announce --yes [--file msg.html]
//	reobot gate                    # OTP login gateway for the dashboard
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reobot/internal/app"
	"reobot/internal/config"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "reobot",
		Short:         "REO eligibility notification bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (json or yaml)")

	root.AddCommand(botCmd(&cfgPath))
	root.AddCommand(notifyCmd(&cfgPath))
	root.AddCommand(announceCmd(&cfgPath))
	root.AddCommand(gateCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// run opens the app for one command and closes it afterwards. The context
// is cancelled on SIGINT/SIGTERM.
func run(cfgPath *string, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func botCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Serve subscriber commands over Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, func(ctx context.Context, a *app.App) error {
				return a.RunBot(ctx)
			})
		},
	}
}

func notifyCmd(cfgPath *string) *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send today's status change notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, func(ctx context.Context, a *app.App) error {
				out, err := a.Notify(ctx, detailed)
				if err != nil {
					return err
				}
				if out.Skipped != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "skipped: %s\n", out.Skipped)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "changes: %d, sent: %d, failed: %d\n",
					out.Changes, out.Result.Success, out.Result.Failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "also send the per-status detail message")
	return cmd
}

func announceCmd(cfgPath *string) *cobra.Command {
	var (
		yes  bool
		file string
	)
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Broadcast a one-time announcement to all active subscribers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				text = string(b)
			}
			if !yes {
				return fmt.Errorf("refusing to broadcast without --yes")
			}
			return run(cfgPath, func(ctx context.Context, a *app.App) error {
				res, err := a.Announce(ctx, text, yes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent: %d, failed: %d\n", res.Success, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the broadcast")
	cmd.Flags().StringVar(&file, "file", "", "HTML message file (default: built-in announcement)")
	return cmd
}

func gateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Serve the dashboard OTP login gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, func(ctx context.Context, a *app.App) error {
				return a.Gate(ctx)
			})
		},
	}
}
