// Package main provides the entry point for the chime CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/chime/pkg/sfx"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	tracing    bool
	soundsDir  string
	backend    string

	stopTracing func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "chime",
		Short: "Play sound effects from the command line",
		Long: paragraph(
			fmt.Sprintf("\nPlay %s without waiting on the audio device. Sounds are decoded once and kept in memory.", keyword("sound effects")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if stopTracing == nil {
				return nil
			}
			return stopTracing(cmd.Context())
		},
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
		log.Debug("Using configuration file", "path", configFile)
	}

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	if viper.GetBool("trace") {
		shutdown, err := setupTracing(os.Stderr)
		if err != nil {
			return err
		}
		stopTracing = shutdown
	}
	return nil
}

// loadConfig builds the manager configuration from defaults, the config
// file, CHIME_* environment variables and flags.
func loadConfig() (sfx.Config, error) {
	cfg := sfx.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to parse configuration: %w", err)
	}
	if cfg.SoundsDir != "" {
		dir, err := homedir.Expand(cfg.SoundsDir)
		if err != nil {
			return cfg, fmt.Errorf("unable to expand sounds dir: %w", err)
		}
		cfg.SoundsDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newManager(ctx context.Context, opts ...sfx.Option) (*sfx.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	m, err := sfx.New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	for name, err := range m.PreloadErrors() {
		log.Warn("Sound not loaded", "sound", name, "error", err)
	}
	return m, nil
}

func closeManager(m *sfx.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		log.Warn("Sound manager did not shut down cleanly", "error", err)
	}
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	_ = closer()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Could not load .env file", "err", err)
	}

	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "write debug messages to the log file")
	rootCmd.PersistentFlags().BoolVar(&tracing, "trace", false, "print load spans to stderr")
	rootCmd.PersistentFlags().StringVarP(&soundsDir, "sounds-dir", "d", "", "directory with sound files and an optional sounds.yaml")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "audio backend (auto, oto, portaudio, mock)")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("trace", rootCmd.PersistentFlags().Lookup("trace"))
	_ = viper.BindPFlag("sounds_dir", rootCmd.PersistentFlags().Lookup("sounds-dir"))
	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))

	setConfigDefaults()

	rootCmd.AddCommand(playCmd, listCmd, infoCmd, exportCmd, addCmd, boardCmd, configCmd, manCmd)
}

// setConfigDefaults registers every sfx.Config key so the config file
// and CHIME_* variables can override it.
func setConfigDefaults() {
	def := sfx.DefaultConfig()
	viper.SetDefault("sounds_dir", def.SoundsDir)
	viper.SetDefault("sounds", map[string]string{})
	viper.SetDefault("no_defaults", def.NoDefaults)
	viper.SetDefault("force_stereo", def.ForceStereo)
	viper.SetDefault("max_source_bytes", def.MaxSourceBytes)
	viper.SetDefault("backend", def.Backend)
	viper.SetDefault("fallback", def.Fallback)
	viper.SetDefault("sample_rate", def.SampleRate)
	viper.SetDefault("channels", def.Channels)
	viper.SetDefault("device_buffer", def.DeviceBuffer)
	viper.SetDefault("warmup", def.Warmup)
	viper.SetDefault("queue_size", def.QueueSize)
	viper.SetDefault("lanes", def.Lanes)
	viper.SetDefault("max_lanes", def.MaxLanes)
	viper.SetDefault("block_size", def.BlockSize)
	viper.SetDefault("stop_timeout", def.StopTimeout)
	viper.SetDefault("idle_close", def.IdleClose)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "chime")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "chime")}, dirs...)
	}

	if c := os.Getenv("CHIME_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("chime")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("chime")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	configFile = filepath.Join(dirs[0], "chime.yml")
}
