// Package cli implements keygenctl, a command line client for the keygen API.
//
//	keygenctl submit --type ed25519
//	keygenctl result <request_id>
//	keygenctl wait <request_id> --interval 1s --timeout 30s
//	keygenctl token --client-id ops
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/amrrdev/keygen/internal/client"
	"github.com/amrrdev/keygen/internal/jwt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

type options struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "keygenctl",
		Short:         "Submit keypair generation jobs and fetch their results",
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != OutputJSON && opts.output != OutputYAML {
				return fmt.Errorf("unsupported output format %q", opts.output)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOrDefault("KEYGEN_SERVER", "http://localhost:8080"), "keygen API base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("KEYGEN_TOKEN"), "bearer token for the API")
	flags.StringVarP(&opts.output, "output", "o", OutputJSON, "output format: json or yaml")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall request timeout")

	rootCmd.AddCommand(buildSubmitCommand(opts))
	rootCmd.AddCommand(buildResultCommand(opts))
	rootCmd.AddCommand(buildWaitCommand(opts))
	rootCmd.AddCommand(buildTokenCommand(opts))

	return rootCmd
}

func buildSubmitCommand(opts *options) *cobra.Command {
	var req client.SubmitRequest
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a keypair generation job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			if wait {
				if err := validateInterval(interval); err != nil {
					return err
				}
			}

			c := opts.client()
			resp, err := c.Submit(ctx, req)
			if err != nil {
				return err
			}
			if !wait {
				return render(cmd.OutOrStdout(), opts.output, resp)
			}

			doc, err := c.Wait(ctx, resp.RequestID, interval)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, doc)
		},
	}

	cmd.Flags().StringVarP(&req.KeyType, "type", "t", "", "key type: rsa or ed25519 (server default when empty)")
	cmd.Flags().IntVarP(&req.KeyBits, "bits", "b", 0, "RSA modulus size (server default when zero)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the result is available")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval with --wait")

	return cmd
}

func buildResultCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "result <request_id>",
		Short: "Fetch the result of a job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			doc, err := opts.client().Result(ctx, args[0])
			if errors.Is(err, client.ErrPending) {
				return render(cmd.OutOrStdout(), opts.output, map[string]string{
					"status":     "pending",
					"request_id": args[0],
				})
			}
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, doc)
		},
	}
}

func buildWaitCommand(opts *options) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "wait <request_id>",
		Short: "Poll until the result of a job is available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateInterval(interval); err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			doc, err := opts.client().Wait(ctx, args[0], interval)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, doc)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval")
	return cmd
}

func buildTokenCommand(opts *options) *cobra.Command {
	var clientID, secret string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("secret is required (use --secret or JWT_SECRET_KEY)")
			}

			token, err := jwt.NewService(secret, ttl).GenerateAccessToken(clientID)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			return render(cmd.OutOrStdout(), opts.output, map[string]string{
				"access_token": token,
				"client_id":    clientID,
				"expires_in":   ttl.String(),
			})
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "keygenctl", "client id carried in the token")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET_KEY"), "HMAC secret shared with the API")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	return cmd
}

func (o *options) client() *client.Client {
	return client.New(o.server, client.WithToken(o.token))
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

func validateInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	return nil
}

func render(w io.Writer, format string, v any) error {
	if format == OutputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
