package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newQuoteCmd(opts *rootOptions) *cobra.Command {
	var (
		nonceHex          string
		out               string
		launchMeasurement bool
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote the TD",
		Long: "Fetch a quote of the TD with the nonce as report data.\n" +
			"The quote is written to the output file, or printed hex encoded.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if launchMeasurement {
				if out != "" {
					return fmt.Errorf("--launch-measurement cannot be used with --out")
				}
				return runLaunchMeasurement(cmd)
			}
			return runQuote(cmd, opts, nonceHex, out)
		},
	}
	cmd.Flags().StringVar(&nonceHex, "nonce", "", "hex encoded nonce of at most 64 bytes")
	cmd.Flags().StringVar(&out, "out", "", "file to write the raw quote to")
	cmd.Flags().BoolVar(&launchMeasurement, "launch-measurement", false, "only print the launch measurement (MRTD) of the TD")
	return cmd
}

func runQuote(cmd *cobra.Command, opts *rootOptions, nonceHex, out string) error {
	nonce, err := parseNonce(nonceHex)
	if err != nil {
		return err
	}

	source, err := newQuoteSource(opts.log)
	if err != nil {
		if notSupported(cmd, err) {
			return nil
		}
		return err
	}
	if !source.IsAvailable() {
		cmd.PrintErrln("This platform does not support TDX quotes")
		return nil
	}

	quote, err := source.Fetch(cmd.Context(), nonce)
	if err != nil {
		return fmt.Errorf("fetching quote: %w", err)
	}

	if out == "" {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(quote))
		return nil
	}
	if err := os.WriteFile(out, quote, 0o644); err != nil {
		return fmt.Errorf("writing quote: %w", err)
	}
	opts.log.WithField("file", out).Info("Saved TD quote")
	return nil
}

func runLaunchMeasurement(cmd *cobra.Command) error {
	report, err := readMeasurements()
	if err != nil {
		if notSupported(cmd, err) {
			return nil
		}
		return fmt.Errorf("reading TD report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Launch measurement (MRTD): %s\n", report.MRTD())
	return nil
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the TDREPORT of the TD as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := readMeasurements()
			if err != nil {
				if notSupported(cmd, err) {
					return nil
				}
				return fmt.Errorf("reading TD report: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
