package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgehive/colony/internal/config"
	"github.com/forgehive/colony/internal/daemon"
	"github.com/forgehive/colony/internal/logger"
	"github.com/forgehive/colony/pkg/company"
	"github.com/forgehive/colony/pkg/store"
)

var (
	structureFile string
	launchTask    string
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a company and run it until interrupted",
	Long: `Launch a company from a structure file: create the workspace and all
agents, post the task to the all-hands channel, and keep the daemon
running until Ctrl-C. On shutdown the workspace is archived and the
store flushed.`,
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().StringVar(&structureFile, "structure", "", "path to the structure JSON file (required)")
	launchCmd.Flags().StringVar(&launchTask, "task", "", "task description for the company (required)")
	_ = launchCmd.MarkFlagRequired("structure")
	_ = launchCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if daemon.IsRunning(cfg.Daemon.PIDFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", cfg.Daemon.PIDFile)
	}

	data, err := os.ReadFile(structureFile)
	if err != nil {
		return fmt.Errorf("failed to read structure file: %w", err)
	}
	var structure company.Structure
	if err := json.Unmarshal(data, &structure); err != nil {
		return fmt.Errorf("failed to parse structure file: %w", err)
	}
	for i, planned := range structure.Agents {
		structure.Agents[i].Model = cfg.ResolveModel(planned.Model)
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	c, err := d.Launcher().Launch(structure, launchTask, string(data))
	if err != nil {
		_ = d.Stop()
		return err
	}

	// The human's task message is what wakes the company up.
	msg, ok := d.Store().AppendMessage(c.AllHandsID, c.Human.ID, launchTask, store.MessageText)
	if !ok {
		_ = d.Stop()
		return fmt.Errorf("failed to post task to all-hands group")
	}
	if group, ok := d.Store().GetGroup(c.AllHandsID); ok {
		d.Registry().WakeAll(group, c.Human.ID)
	}

	fmt.Printf("Company %q launched: workspace %s, %d agents, task message %s\n",
		structure.Name, c.Workspace.ID, len(c.Agents), msg.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Println("\nShutting down...")
	if err := d.Launcher().Shutdown(c.Workspace.ID); err != nil {
		log.Warn().Err(err).Msg("Company shutdown failed")
	}
	return d.Stop()
}
