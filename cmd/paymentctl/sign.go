package main

import (
	"fmt"
	"os"
	"strings"

	"coursemarket/internal/gateway"

	"github.com/spf13/cobra"
)

// sign-vnpay は key=value から署名ベースとHMAC-SHA512を出す（連携確認用）
func signVNPayCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "sign-vnpay [key=value]...",
		Short: "Print the VNPay canonical query and its HMAC-SHA512",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("VNPAY_HASH_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or VNPAY_HASH_SECRET is required")
			}
			fields, err := parsePairs(args)
			if err != nil {
				return err
			}

			base := gateway.CanonicalQuery(fields)
			fmt.Fprintln(cmd.OutOrStdout(), base)
			fmt.Fprintln(cmd.OutOrStdout(), gateway.SignHMACSHA512(secret, base))
			return nil
		},
	}

	cmd.Flags().StringVarP(&secret, "secret", "s", "", "Hash secret (default $VNPAY_HASH_SECRET)")

	return cmd
}

func signSePayCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "sign-sepay [key=value]...",
		Short: "Print the MD5 signature for a SePay webhook payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("SEPAY_SECRET_KEY")
			}
			if secret == "" {
				return fmt.Errorf("--secret or SEPAY_SECRET_KEY is required")
			}
			fields, err := parsePairs(args)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), gateway.SignMD5(fields, secret))
			return nil
		},
	}

	cmd.Flags().StringVarP(&secret, "secret", "s", "", "Secret key (default $SEPAY_SECRET_KEY)")

	return cmd
}

func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		out[k] = v
	}
	return out, nil
}
