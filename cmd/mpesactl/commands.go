package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alexbotov/mpesa/internal/keys"
	"github.com/alexbotov/mpesa/internal/sandbox"
	"github.com/alexbotov/mpesa/pkg/mpesa"
	"github.com/spf13/cobra"
)

// b2cCmd sends one disbursement through the SDK
func (c *cli) b2cCmd() *cobra.Command {
	var (
		input       mpesa.B2CInput
		baseURL     string
		apiKey      string
		publicKey   string
		accessToken string
		origin      string
	)

	cmd := &cobra.Command{
		Use:   "b2c",
		Short: "Send a business-to-customer disbursement",
		RunE: func(cmd *cobra.Command, args []string) error {
			sdkCfg := c.cfg.Client.SDKConfig()
			overrideString(&sdkCfg.BaseURL, baseURL)
			overrideString(&sdkCfg.APIKey, apiKey)
			overrideString(&sdkCfg.PublicKey, publicKey)
			overrideString(&sdkCfg.AccessToken, accessToken)
			overrideString(&sdkCfg.Origin, origin)
			sdkCfg.Logger = c.logger

			if input.ServiceProviderCode == "" {
				input.ServiceProviderCode = c.cfg.Sandbox.ServiceProviderCode
			}
			if input.ThirdPartyReference == "" {
				input.ThirdPartyReference = mpesa.NewThirdPartyReference()
			}

			client := mpesa.NewClient(sdkCfg)
			resp, err := client.B2CPayment(cmd.Context(), &input)
			if err != nil {
				return c.printPaymentError(cmd, err)
			}

			return c.print(cmd.OutOrStdout(), map[string]interface{}{
				"status":                "accepted",
				"response_code":         resp.ResponseCode,
				"response_desc":         resp.ResponseDesc,
				"conversation_id":       resp.ConversationID,
				"transaction_id":        resp.TransactionID,
				"third_party_reference": resp.ThirdPartyReference,
			}, "status", "response_code", "response_desc", "conversation_id", "transaction_id", "third_party_reference")
		},
	}

	cmd.Flags().StringVar(&input.TransactionReference, "transaction-ref", "", "Transaction reference (max 20 characters)")
	cmd.Flags().StringVar(&input.CustomerMSISDN, "msisdn", "", "Customer phone number")
	cmd.Flags().StringVar(&input.Amount, "amount", "", "Amount to disburse")
	cmd.Flags().StringVar(&input.ThirdPartyReference, "reference", "", "Third-party reference (generated when empty)")
	cmd.Flags().StringVar(&input.ServiceProviderCode, "shortcode", "", "Service provider code (default sandbox.service_provider_code)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Gateway base URL override")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key override")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Gateway public key override (bare base64)")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Pre-issued access token override")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin header override")
	cmd.MarkFlagRequired("transaction-ref")
	cmd.MarkFlagRequired("msisdn")
	cmd.MarkFlagRequired("amount")

	return cmd
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// printPaymentError reports a failed payment and returns an error so the
// process exits non-zero.
func (c *cli) printPaymentError(cmd *cobra.Command, err error) error {
	if errors.Is(err, mpesa.ErrNoCredential) {
		return fmt.Errorf("no credential: configure an api key and public key, or an access token")
	}

	var mErr *mpesa.Error
	if !errors.As(err, &mErr) {
		return err
	}

	report := map[string]interface{}{
		"status": "rejected",
		"kind":   mErr.Kind.String(),
		"error":  mErr.Error(),
	}
	if mErr.StatusCode != 0 {
		report["http_status"] = mErr.StatusCode
	}
	if mErr.Response != nil {
		report["response_code"] = mErr.Response.ResponseCode
		report["response_desc"] = mErr.Response.ResponseDesc
	}
	if printErr := c.print(cmd.OutOrStdout(), report, "status", "kind", "http_status", "response_code", "response_desc", "error"); printErr != nil {
		return printErr
	}
	return fmt.Errorf("payment rejected: %s", mErr.Kind)
}

// keygenCmd creates a sandbox key pair
func (c *cli) keygenCmd() *cobra.Command {
	var (
		bits int
		out  string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a gateway key pair",
		Long:  "Writes the private key PEM for the sandbox and prints the public key in the bare base64 form clients are configured with.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keys.Generate(bits)
			if err != nil {
				return err
			}
			if err := keys.WritePrivateKey(out, key); err != nil {
				return err
			}
			body, err := keys.PublicKeyBody(&key.PublicKey)
			if err != nil {
				return err
			}
			c.logger.Info("private key written", "path", out, "bits", key.N.BitLen())

			return c.print(cmd.OutOrStdout(), map[string]interface{}{
				"private_key_file": out,
				"public_key":       body,
			}, "private_key_file", "public_key")
		},
	}

	cmd.Flags().IntVar(&bits, "bits", keys.DefaultBits, "RSA key size")
	cmd.Flags().StringVar(&out, "out", "sandbox.pem", "Private key output path")

	return cmd
}

// tokenCmd mints a sandbox access token with the configured secret
func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		scope   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a sandbox access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope != sandbox.ScopeB2C && scope != sandbox.ScopeAdmin {
				return fmt.Errorf("--scope must be %q or %q", sandbox.ScopeB2C, sandbox.ScopeAdmin)
			}
			if ttl == 0 {
				ttl = c.cfg.Sandbox.TokenTTL
			}

			token, expiresAt, err := sandbox.IssueToken([]byte(c.cfg.Sandbox.JWTSecret), subject, scope, ttl, time.Now())
			if err != nil {
				return err
			}

			return c.print(cmd.OutOrStdout(), map[string]interface{}{
				"access_token": token,
				"scope":        scope,
				"expires_at":   expiresAt.Format(time.RFC3339),
			}, "access_token", "scope", "expires_at")
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "mpesactl", "Token subject")
	cmd.Flags().StringVar(&scope, "scope", sandbox.ScopeB2C, "Token scope: b2c or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default sandbox.token_ttl)")

	return cmd
}

// classifyCmd prints the error kind for a status and description
func (c *cli) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify STATUS [DESCRIPTION]",
		Short: "Show how a gateway response is classified",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid status %q: %w", args[0], err)
			}
			description := ""
			if len(args) == 2 {
				description = args[1]
			}

			classified := mpesa.Classify(status, description)
			return c.print(cmd.OutOrStdout(), map[string]interface{}{
				"status":      status,
				"description": description,
				"kind":        classified.Kind.String(),
				"code":        classified.Kind.Code(),
			}, "status", "description", "kind", "code")
		},
	}
}
