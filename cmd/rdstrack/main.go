package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rdstrack/internal/config"
)

var (
	configPath string
	verbose    bool
	dataDir    string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "rdstrack",
	Short: "Resolve RDS Radio Text into music tracks",
	Long: `rdstrack turns the Radio Text (RT) an FM tuner receives into clean
"Artist - Title" tracks. RT is rewritten by user rules, checked against
user corrections, looked up in a local track cache and, when the network
is up, in remote catalogues (Deezer, iTunes, MusicBrainz, Spotify).

Config file locations (checked in order):
  ./rdstrack.yaml
  ~/.config/rdstrack/config.yaml
  ~/.rdstrack.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: first of the standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"show detailed output")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"data directory (default ~/.local/share/rdstrack)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false,
		"never query remote catalogues")

	rootCmd.AddCommand(
		serveCmd(),
		resolveCmd(),
		replayCmd(),
		tagCmd(),
		rulesCmd(),
		correctionsCmd(),
		cacheCmd(),
		rdslogCmd(),
		initConfigCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the persistent flags.
// Priority: CLI flags > config file > defaults
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Verbose = true
	}
	if dataDir != "" {
		cfg.DataDir = config.ExpandHome(dataDir)
	}
	if offline {
		cfg.Network.Offline = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			out := cmd.OutOrStdout()

			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Config file already exists at: %s\n", path)
				fmt.Fprintln(out, "Delete it first if you want to recreate it.")
				return nil
			}

			if err := config.SaveConfigFile(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}

			fmt.Fprintf(out, "Created default config file at: %s\n", path)
			fmt.Fprintln(out, "\nYou can now edit this file to customize your settings.")
			fmt.Fprintln(out, "Available options:")
			fmt.Fprintln(out, "  remote.providers: deezer, itunes, musicbrainz, spotify (searched in order)")
			fmt.Fprintln(out, "  remote.spotify_client_id / spotify_client_secret: needed for spotify")
			fmt.Fprintln(out, "  fragment.capacity / fragment.lifetime: RT fragment buffer")
			fmt.Fprintln(out, "  network.offline: true to use the local cache only")
			fmt.Fprintln(out, "  server.addr: listen address for 'rdstrack serve'")
			return nil
		},
	}
}
