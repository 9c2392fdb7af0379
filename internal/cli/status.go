package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgehive/colony/internal/config"
	"github.com/forgehive/colony/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the colony daemon is running",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	if !daemon.IsRunning(cfg.Daemon.PIDFile) {
		fmt.Println("Daemon is not running")
		return nil
	}

	pid, err := daemon.ReadPID(cfg.Daemon.PIDFile)
	if err != nil {
		return err
	}
	fmt.Printf("Daemon is running (PID %d)\n", pid)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", cfg.Daemon.Listen))
	if err != nil {
		fmt.Printf("Health check failed: %v\n", err)
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	fmt.Printf("Health: %s %s\n", resp.Status, strings.TrimSpace(string(body)))
	return nil
}
