package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/makt28/stockwatch/internal/config"
	"github.com/makt28/stockwatch/internal/monitor"
	"github.com/makt28/stockwatch/internal/web"
)

var screenshotPath string

func init() {
	checkCmd.Flags().StringVar(&screenshotPath, "screenshot", "", "also capture the page and write the PNG to this file")
}

var checkCmd = &cobra.Command{
	Use:   "check [url]",
	Short: "Probe a page once and print the result.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgMgr, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		target := cfg.Monitor.DefaultURL
		if len(args) == 1 {
			target = args[0]
		}
		if !config.IsHTTPURL(target) {
			return fmt.Errorf("not an http(s) URL: %q", target)
		}

		prober, err := newProber(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Monitor.ProbeTimeoutDuration())
		result := prober.Probe(ctx, target)
		cancel()

		t := newTable()
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRows([]table.Row{
			{"URL", target},
			{"Status", monitor.StatusLabel(result.Signal)},
			{"Errored", result.Errored},
			{"Reason", result.Reason},
			{"Title", result.Title},
			{"Latency", result.Latency.Round(time.Millisecond).String()},
		})

		if screenshotPath != "" {
			img, err := prober.CaptureEvidence(cmd.Context(), target)
			if err != nil {
				t.AppendRow(table.Row{"Screenshot", "failed: " + err.Error()})
			} else if err := os.WriteFile(screenshotPath, img, 0o644); err != nil {
				return fmt.Errorf("write screenshot: %w", err)
			} else {
				t.AppendRow(table.Row{"Screenshot", fmt.Sprintf("%s (%d bytes)", screenshotPath, len(img))})
			}
		}

		t.Render()
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash for api.password_hash.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := web.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
