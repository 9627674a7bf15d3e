// Package main is the CLI entry point for camelpad.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "camelpad [config]",
	Short: "Bridge between a macro pad and prompting tools",
	Long: `camelpad connects to a USB HID macro pad, shows prompts from local
tools on its display, and answers each prompt with the action bound to
the button gesture the operator makes.

Running camelpad without a subcommand is the same as 'camelpad run'.`,
	Version: Version,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runDaemon,
}

var runCmd = &cobra.Command{
	Use:   "run [config]",
	Short: "Run the bridge in the foreground",
	Long: `Loads and validates the config file, connects to the pad and serves
prompts until interrupted. Exits with status 1 listing every config
problem when the file is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDaemon,
}

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List attached HID devices",
	Long:  `Lists every HID interface. Interfaces on a vendor usage page are marked [accessible].`,
	Args:  cobra.NoArgs,
	RunE:  runListDevices,
}

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a test prompt and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the bridge is running",
	Long:  `Shows the recorded instance, whether it is alive, and the live bridge state.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var installCmd = &cobra.Command{
	Use:   "install [config]",
	Short: "Start camelpad at login (macOS LaunchAgent)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the LaunchAgent",
	Args:  cobra.NoArgs,
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	debug        bool
	otlpEndpoint string
	otlpInsecure bool

	sendCategory string
	sendEndpoint string
	sendTimeout  time.Duration

	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: per-user config path)")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().BoolVar(&debug, "debug", false, "Log to the console at debug level")
		c.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "Export metrics to this OTLP/HTTP endpoint (host:port)")
		c.Flags().BoolVar(&otlpInsecure, "otlp-insecure", false, "Use plain HTTP for the OTLP exporter")
	}

	sendCmd.Flags().StringVar(&sendCategory, "category", "", "Prompt category")
	sendCmd.Flags().StringVar(&sendEndpoint, "endpoint", "", "Bridge endpoint (default: from config)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "Prompt timeout (default: bridge default)")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listDevicesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("camelpad %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
