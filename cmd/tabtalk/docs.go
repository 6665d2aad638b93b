package main

import (
	"net"
	"time"

	pkgbrowser "github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/tabtalk/internal/netutil"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Open the running daemon's API docs in the default browser",
	RunE:  runDocs,
}

func runDocs(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	addr := cfg.BindAddr
	if host, port, err := net.SplitHostPort(addr); err == nil && (host == "" || host == "0.0.0.0") {
		addr = net.JoinHostPort("127.0.0.1", port)
	}
	if !netutil.Reachable(addr, time.Second) {
		pterm.Warning.Printf("Nothing is listening on %s; start it with `tabtalk serve`\n", addr)
	}
	url := "http://" + addr + "/docs"
	pterm.Info.Printf("Opening %s\n", url)
	return pkgbrowser.OpenURL(url)
}
