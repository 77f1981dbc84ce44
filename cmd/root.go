// Package cmd implements the tdx-attest command line tool.
package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-tdx-attestation/attestation"
	"github.com/edgelesssys/go-tdx-attestation/internal/config"
	"github.com/edgelesssys/go-tdx-attestation/tdx"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Overridden in tests.
var (
	newQuoteSource = func(log logrus.FieldLogger) (attestation.Source, error) {
		source, err := tdx.NewQuoteSource(log)
		if err != nil {
			return nil, err
		}
		return source, nil
	}
	readMeasurements = func() (types.TDReport, error) {
		dev, err := tdx.OpenDevice()
		if err != nil {
			return types.TDReport{}, err
		}
		defer dev.Close()
		return tdx.ReadMeasurements(dev)
	}
	platform = tdx.Platform
)

// rootOptions are shared by all commands.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string

	cfg config.Config
	log *logrus.Logger
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "tdx-attest",
		Short: "Produce and verify Intel TDX attestation evidence",
		Long: "tdx-attest fetches TDX quotes inside a trust domain and verifies them against the Intel SGX Root CA,\n" +
			"optionally checking revocation and the launch endorsement of the VM host.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to an HCL config file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to a .env file (skipped if not found)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides the config")

	rootCmd.AddCommand(
		newPlatformCmd(),
		newQuoteCmd(opts),
		newReportCmd(),
		newVerifyCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.log = logrus.New()
	o.log.SetOutput(cmd.ErrOrStderr())
	o.log.SetLevel(level)
	return nil
}

// parseNonce decodes a hex nonce. An empty string yields a nil nonce.
func parseNonce(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	nonce, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	if len(nonce) > types.ReportDataSize {
		return nil, fmt.Errorf("nonce must not be longer than %d bytes, received %d bytes", types.ReportDataSize, len(nonce))
	}
	return nonce, nil
}

// notSupported reports whether err means the platform is not a TDX guest, and prints a notice if so.
func notSupported(cmd *cobra.Command, err error) bool {
	if !errors.Is(err, attestation.ErrNotAvailable) {
		return false
	}
	cmd.PrintErrln("This platform does not support TDX:", err)
	return true
}
