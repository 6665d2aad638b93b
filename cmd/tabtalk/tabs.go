package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/tabtalk/internal/cdpcontrol"
	"github.com/dgnsrekt/tabtalk/internal/extract"
)

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List the browser's open tabs",
	RunE:  runTabs,
}

func runTabs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	if err := client.Connect(cmd.Context()); err != nil {
		pterm.Error.Printf("Could not reach the browser at %s\n", cfg.CDPURL())
		return err
	}
	defer func() { _ = client.Close() }()

	tabs, err := client.ListTabs(cmd.Context())
	if err != nil {
		return err
	}
	if len(tabs) == 0 {
		pterm.Info.Println("No tabs open")
		return nil
	}

	rows := pterm.TableData{{"Tab ID", "Kind", "Collectable", "Title", "URL"}}
	for _, t := range tabs {
		rows = append(rows, []string{
			t.TabID,
			string(extract.Select(t.URL)),
			fmt.Sprintf("%t", extract.Collectable(t.URL)),
			truncate(t.Title, 48),
			truncate(t.URL, 64),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
