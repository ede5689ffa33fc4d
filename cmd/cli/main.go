package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/gosettle/internal/adapter/webhook"
	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/auth"
	"github.com/iho/gosettle/internal/infrastructure/logger"
	"github.com/iho/gosettle/internal/infrastructure/postgres"
)

var (
	baseURL string
	timeout time.Duration
	token   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gosettle-cli",
		Short:         "GoSettle CLI tool",
		Long:          `A command line interface for operating the GoSettle settlement API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the GoSettle API")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("GOSETTLE_TOKEN"), "Bearer token for the admin API")

	root.AddCommand(ledgerCmd(), paymentsCmd(), accountsCmd(), tokenCmd(), webhookCmd(), migrateCmd())
	return root
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile <account-id>",
		Short: "Compare an account's balance with its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				AccountID         string `json:"account_id"`
				RecordedBalance   string `json:"recorded_balance"`
				CalculatedBalance string `json:"calculated_balance"`
				Difference        string `json:"difference"`
				IsReconciled      bool   `json:"is_reconciled"`
			}
			if err := apiRequest(http.MethodGet, "/api/v1/accounts/"+url.PathEscape(args[0])+"/reconciliation", nil, &result); err != nil {
				return err
			}

			if !result.IsReconciled {
				printJSON(result)
				return fmt.Errorf("account %s drifted by %s", result.AccountID, result.Difference)
			}
			fmt.Printf("Account %s reconciled: balance %s\n", result.AccountID, result.RecordedBalance)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Reconcile every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report map[string]any
			if err := apiRequest(http.MethodGet, "/api/v1/reconciliation", nil, &report); err != nil {
				return err
			}
			printJSON(report)

			if d, ok := report["discrepancies"].([]any); ok && len(d) > 0 {
				return fmt.Errorf("%d account(s) drifted", len(d))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "events <account-id>",
		Short: "List an account's ledger events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var list struct {
				Events []struct {
					ID            string `json:"id"`
					Type          string `json:"type"`
					TransactionID string `json:"transaction_id"`
					Amount        string `json:"amount"`
					BalanceAfter  string `json:"balance_after"`
				} `json:"events"`
			}
			if err := apiRequest(http.MethodGet, "/api/v1/accounts/"+url.PathEscape(args[0])+"/ledger", nil, &list); err != nil {
				return err
			}

			fmt.Printf("%-28s %-8s %-28s %14s %14s\n", "ID", "TYPE", "TRANSACTION", "AMOUNT", "BALANCE")
			for _, e := range list.Events {
				fmt.Printf("%-28s %-8s %-28s %14s %14s\n", e.ID, e.Type, truncate(e.TransactionID, 28), e.Amount, e.BalanceAfter)
			}
			return nil
		},
	})

	return cmd
}

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment request operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a payment request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pr map[string]any
			if err := apiRequest(http.MethodGet, "/api/v1/payment-requests/"+url.PathEscape(args[0]), nil, &pr); err != nil {
				return err
			}
			printJSON(pr)
			return nil
		},
	})

	var reason string
	hold := &cobra.Command{
		Use:   "hold <id>",
		Short: "Place a settled payment request in mediation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mediation(http.MethodPost, args[0], reason)
		},
	}
	release := &cobra.Command{
		Use:   "release <id>",
		Short: "Release a payment request from mediation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mediation(http.MethodDelete, args[0], reason)
		},
	}
	hold.Flags().StringVar(&reason, "reason", "", "Reason recorded on the ledger event")
	release.Flags().StringVar(&reason, "reason", "", "Reason recorded on the ledger event")
	cmd.AddCommand(hold, release)

	return cmd
}

func mediation(method, id, reason string) error {
	var res map[string]any
	if err := apiRequest(method, "/api/v1/payment-requests/"+url.PathEscape(id)+"/mediation", map[string]string{"reason": reason}, &res); err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show an account and its balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acc map[string]any
			if err := apiRequest(http.MethodGet, "/api/v1/accounts/"+url.PathEscape(args[0]), nil, &acc); err != nil {
				return err
			}
			printJSON(acc)
			return nil
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret   string
		id       string
		email    string
		role     string
		validity time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token from the shared JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			t, err := auth.NewJWTManager(secret, validity).Generate(&domain.Operator{
				ID:    id,
				Email: email,
				Role:  domain.Role(role),
			})
			if err != nil {
				return err
			}
			fmt.Println(t)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	cmd.Flags().StringVar(&id, "id", "cli", "Operator ID")
	cmd.Flags().StringVar(&email, "email", "", "Operator email")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleViewer), "Role: viewer, operator or admin")
	cmd.Flags().DurationVar(&validity, "ttl", time.Hour, "Token validity")

	return cmd
}

func webhookCmd() *cobra.Command {
	var (
		secret    string
		eventType string
		key       string
	)

	cmd := &cobra.Command{
		Use:   "webhook <provider> <transaction-id> <direction> <status>",
		Short: "Send a signed test notification",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(webhook.Payload{
				EventType:     eventType,
				TransactionID: args[1],
				Direction:     args[2],
				Status:        args[3],
			})
			if err != nil {
				return err
			}

			verifier := webhook.NewHMACVerifier(domain.Provider(args[0]), secret, "")
			headers := map[string]string{webhook.DefaultSignatureHeader: "sha256=" + verifier.Sign(body)}
			if key != "" {
				headers[webhook.IdempotencyKeyHeader] = key
			}

			resp, raw, err := send(http.MethodPost, "/webhooks/"+url.PathEscape(args[0]), body, headers)
			if err != nil {
				return err
			}
			fmt.Printf("Status: %d (%s)\n", resp.StatusCode, resp.Header.Get("X-Idempotency-Status"))
			if resp.Header.Get("X-Idempotency-Replay") == "true" {
				fmt.Println("Replayed: true")
			}
			fmt.Println(strings.TrimSpace(string(raw)))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Provider webhook secret")
	cmd.Flags().StringVar(&eventType, "event", "payment.updated", "Provider event type")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Explicit delivery key")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

func migrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")

	log := logger.NewWithWriter(logger.Config{Level: "info", Format: "console"}, os.Stderr)

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errMissingDatabaseURL
			}
			return postgres.RunMigrations(databaseURL, log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errMissingDatabaseURL
			}
			return postgres.RunMigrationsDown(databaseURL, log)
		},
	})

	return cmd
}

var errMissingDatabaseURL = errors.New("--database-url or DATABASE_URL is required")

// apiRequest calls the admin API and decodes a 2xx JSON response into out.
func apiRequest(method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	resp, raw, err := send(method, path, body, headers)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s (%s) %s", method, path, resp.StatusCode, apiErr.Error, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func send(method, path string, body []byte, headers map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, raw, nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(out))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
