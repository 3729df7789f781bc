package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/server"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server. Unfinished chains found in the store are
resumed in the background as the server starts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.settings.Server.Addr
				}
				recovered := make(chan struct{})
				go func() {
					defer close(recovered)
					n, err := a.svc.RecoverAll(ctx)
					if err != nil {
						a.logger.Warn("recovery finished with errors", slog.String("error", err.Error()))
					}
					a.logger.Info("recovered chains", slog.Int("count", n))
				}()
				defer func() { <-recovered }()

				handler, err := server.New(server.Config{
					Chains:             a.svc,
					BenchmarkAccountID: a.settings.Chain.BenchmarkAccountID,
					Logger:             a.logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:         addr,
					Handler:      handler,
					ReadTimeout:  a.settings.Server.ReadTimeout,
					WriteTimeout: a.settings.Server.WriteTimeout,
				}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.settings.Server.ShutdownTimeout)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.logger.Info("serving reportflow API", slog.String("addr", addr), slog.String("openapi", "/openapi.json"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func startCmd() *cobra.Command {
	var account, user, conversation, reportID string
	cmd := &cobra.Command{
		Use:   "start <input>",
		Short: "Start a report chain and run it until it finishes or asks a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				id, err := a.svc.StartChain(ctx, reportflow.StartRequest{
					ReportID:       reportID,
					UserInput:      strings.Join(args, " "),
					AccountID:      account,
					UserID:         user,
					ConversationID: conversation,
				})
				if err != nil {
					return err
				}
				a.svc.Wait()
				return printReport(ctx, a, id)
			})
		},
	}
	cmd.Flags().StringVar(&reportID, "id", "", "report id (UUID); generated when empty")
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id")
	return cmd
}

func answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <reportId> <answer>",
		Short: "Answer a chain's clarifying question and continue it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.svc.AnswerClarification(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
					return err
				}
				a.svc.Wait()
				return printReport(ctx, a, args[0])
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <reportId>",
		Short: "Cancel a chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.svc.Cancel(ctx, args[0]); err != nil {
					return err
				}
				a.svc.Wait()
				return printReport(ctx, a, args[0])
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <reportId>",
		Short: "Show a chain's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return printReport(ctx, a, args[0])
			})
		},
	}
}

func stepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps <reportId>",
		Short: "List a chain's journaled steps and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return printSteps(ctx, a, args[0])
			})
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [reportId]",
		Short: "Resume one chain, or every unfinished chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					if err := a.svc.Resume(ctx, args[0]); err != nil {
						return err
					}
					a.svc.Wait()
					return printReport(ctx, a, args[0])
				}
				n, err := a.svc.RecoverAll(ctx)
				fmt.Printf("resumed %d chain(s)\n", n)
				return err
			})
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if s.Gateway.APIKey != "" {
				s.Gateway.APIKey = "********"
			}
			if viper.GetBool("json") {
				return printJSON(s)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(s)
		},
	}
}
