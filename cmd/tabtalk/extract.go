package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/tabtalk/internal/download"
)

var extractCmd = &cobra.Command{
	Use:   "extract <tab-id>...",
	Short: "Collect tabs as Markdown without starting the daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().Bool("save", false, "Write each tab to the download directory instead of stdout")
}

func runExtract(cmd *cobra.Command, args []string) error {
	save, _ := cmd.Flags().GetBool("save")
	ctx := cmd.Context()

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	c, err := connect(ctx, cfg)
	if err != nil {
		pterm.Error.Printf("Could not reach the browser at %s\n", cfg.CDPURL())
		return err
	}
	defer c.Close()

	var store *download.Store
	if save {
		if store, err = download.NewStore(cfg.DownloadDir); err != nil {
			return err
		}
	}

	failed := 0
	for i, tabID := range args {
		start := time.Now()
		tab, ok := c.orch.CollectPageContent(ctx, tabID, cfg.CollectTimeout())
		if !ok {
			failed++
			pterm.Warning.Printf("Tab %s could not be collected\n", tabID)
			continue
		}
		if store == nil {
			fmt.Println(download.Render(tab, time.Now()))
			continue
		}
		meta, err := store.Save(tab, i, len(args), time.Now())
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Saved %s (%d bytes) in %s", meta.File, meta.SizeBytes, time.Since(start).Round(time.Millisecond))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tabs failed", failed, len(args))
	}
	return nil
}
