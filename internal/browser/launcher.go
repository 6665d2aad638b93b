// Package browser starts a Chromium-family browser with remote debugging
// enabled when none is listening on the CDP port.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/samber/lo"

	"github.com/dgnsrekt/tabtalk/internal/netutil"
)

const readyTimeout = 15 * time.Second

var candidates = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable", "brave-browser"}

var macCandidates = []string{
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
}

type Config struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
}

// Launcher owns a browser process it started. It never stops a browser the
// user launched.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	version string
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	return &Launcher{cfg: cfg}
}

func (l *Launcher) addr() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

func detectBrowser() (string, error) {
	if path, ok := lo.Find(lo.Map(candidates, func(name string, _ int) string {
		p, _ := exec.LookPath(name)
		return p
	}), func(p string) bool { return p != "" }); ok {
		return path, nil
	}
	if runtime.GOOS == "darwin" {
		if path, ok := lo.Find(macCandidates, func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		}); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("browser: no supported browser found (tried %v)", candidates)
}

// args keeps background tabs running timers and rendering so collector
// scripts in unfocused tabs finish within the collection timeout.
func (l *Launcher) args() []string {
	return []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		l.cfg.StartURL,
	}
}

// Launch starts the browser unless the CDP port already answers, then waits
// for /json/version.
func (l *Launcher) Launch(ctx context.Context) error {
	if netutil.Reachable(l.addr(), time.Second) {
		slog.Info("browser already running, skipping launch", "addr", l.addr())
		return l.waitForCDP(ctx)
	}

	path, err := detectBrowser()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("browser: create profile dir: %w", err)
	}

	l.cmd = exec.Command(path, l.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("browser: start %s: %w", path, err)
	}
	slog.Info("browser process started", "path", path, "pid", l.cmd.Process.Pid, "profile_dir", l.cfg.ProfileDir)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return err
	}
	return nil
}

// Version is the browser's product string once CDP answered.
func (l *Launcher) Version() string { return l.version }

func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := "http://" + l.addr() + "/json/version"
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	client := &http.Client{Timeout: time.Second}
	for {
		if v, ok := probeVersion(ctx, client, url); ok {
			l.version = v
			slog.Info("cdp endpoint ready", "addr", l.addr(), "browser", v)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("browser: cdp not ready at %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

func probeVersion(ctx context.Context, client *http.Client, url string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var info struct {
		Browser string `json:"Browser"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", false
	}
	return info.Browser, true
}

// Running reports whether this launcher spawned the browser.
func (l *Launcher) Running() bool {
	return l.cmd != nil && l.cmd.Process != nil && l.cmd.ProcessState == nil
}

// Stop sends SIGTERM to a browser this launcher started, then SIGKILL after
// five seconds.
func (l *Launcher) Stop() {
	if !l.Running() {
		return
	}
	pid := l.cmd.Process.Pid
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("browser stopped", "pid", pid)
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, killing", "pid", pid)
		_ = l.cmd.Process.Kill()
		<-done
	}
}
