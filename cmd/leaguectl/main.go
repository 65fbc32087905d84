package main

import (
	"encoding/json"
	"fmt"
	"os"

	"stockleague/internal/league"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "leaguectl",
		Short:        "StockLeague admin tool",
		SilenceUsage: true,
	}

	root.AddCommand(
		newRulesCmd(),
		newScoreCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Rule set helpers",
	}
	rules.AddCommand(newRulesValidateCmd())
	return rules
}

func newRulesValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule set file before applying it to a league",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var cfg league.RuleSetConfig
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			rules, err := league.NewRuleSet(cfg)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rules, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("rule set is valid:\n%s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule set JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newScoreCmd() *cobra.Command {
	var (
		kind          string
		totalValue    float64
		startingCash  float64
		snapshotsFile string
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a member's score under a competition mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, known := league.ModeFromConfig(league.ModeConfig{Kind: kind})
			if !known {
				fmt.Fprintf(os.Stderr, "warning: unknown mode %q, scoring as absolute_value\n", kind)
			}
			var snapshots []league.PortfolioSnapshot
			if snapshotsFile != "" {
				var err error
				snapshots, err = readSnapshots(snapshotsFile)
				if err != nil {
					return err
				}
			}
			fmt.Printf("%.6f\n", mode.Score(totalValue, startingCash, snapshots))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "mode", "absolute_value", "competition mode kind")
	cmd.Flags().Float64Var(&totalValue, "total", 0, "current total portfolio value")
	cmd.Flags().Float64Var(&startingCash, "cash", 0, "league starting cash")
	cmd.Flags().StringVarP(&snapshotsFile, "snapshots", "f", "", "snapshot JSON file (risk_adjusted)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var (
		file       string
		windowDays float64
		confidence float64
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Compute portfolio statistics from a snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := readSnapshots(file)
			if err != nil {
				return err
			}
			dd := league.MaxDrawdown(snapshots)
			fmt.Printf("samples:            %d\n", len(snapshots))
			fmt.Printf("return:             %.4f%%\n", league.ReturnPercent(snapshots))
			fmt.Printf("annualized return:  %.4f%%\n", league.AnnualizedReturnPercent(snapshots, windowDays))
			fmt.Printf("volatility:         %.4f%%\n", league.VolatilityPercent(snapshots))
			fmt.Printf("sharpe:             %.4f\n", league.AnnualizedSharpe(snapshots, league.DefaultAnnualRiskFree))
			fmt.Printf("max drawdown:       %.4f (peak %s, valley %s)\n", dd.MaxFraction,
				dd.PeakAt.Format("2006-01-02"), dd.ValleyAt.Format("2006-01-02"))
			fmt.Printf("VaR(%.0f%%):           %.4f%%\n", confidence*100, league.ValueAtRisk(snapshots, confidence))
			fmt.Printf("CVaR(%.0f%%):          %.4f%%\n", confidence*100, league.ConditionalValueAtRisk(snapshots, confidence))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot JSON file")
	cmd.Flags().Float64Var(&windowDays, "window", 30, "window length in days")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.95, "VaR/CVaR confidence")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSnapshots(path string) ([]league.PortfolioSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []league.PortfolioSnapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
