package main

import (
	"fmt"
	"os"

	"github.com/CodingButter/agent-supervisor/pkg/config"
	"github.com/CodingButter/agent-supervisor/pkg/log"
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Exit codes per spec.md §6: 0 normal, 1 fatal init, 2 bad config,
// 130 cancelled (SIGINT/SIGTERM observed before a clean stop).
const (
	exitOK        = 0
	exitFatalInit = 1
	exitBadConfig = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code, ok := exitCodeFor(err); ok {
			return code
		}
		return exitFatalInit
	}
	return exitOK
}

// exitCodeFor maps a sentinel error surfaced by a subcommand back to the
// exit-code contract, falling back to "let main decide" when the error
// carries no classification.
func exitCodeFor(err error) (int, bool) {
	switch err {
	case errBadConfig:
		return exitBadConfig, true
	case errCancelled:
		return exitCancelled, true
	default:
		return 0, false
	}
}

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:     "agentsupervisord",
	Short:   "agentsupervisord runs the PTY agent lifecycle supervisor daemon",
	Version: Version,
}

// init resolves the file and environment layers up front (a flag's own
// default value has to already reflect them, since cobra only overrides a
// flag's bound variable when that flag is explicitly passed), then binds
// cobra flags on top as the highest-priority layer.
func init() {
	cfgFile := os.Getenv("AGENTSUPERVISORD_CONFIG")
	for i, a := range os.Args {
		if a == "--config" && i+1 < len(os.Args) {
			cfgFile = os.Args[i+1]
		}
	}

	fileCfg, err := config.LoadFile(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		fileCfg = config.Default()
	}
	fileCfg.ApplyEnv()
	cfg = fileCfg

	rootCmd.PersistentFlags().String("config", cfgFile, "optional YAML defaults file")
	cobra.OnInitialize(initLogging)

	config.BindFlags(runCmd, &cfg)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}
