package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/DevJayantaGhosh/sherlock/internal/log"
	"github.com/DevJayantaGhosh/sherlock/internal/model"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	userConfigPath string // /default/config/path/sherlock on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logOut         io.WriteCloser

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "sherlock")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is sherlock.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initSherlock
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	}

	rootCmd.AddCommand(cloneCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(secretsCmd())
	rootCmd.AddCommand(vulnsCmd())
	rootCmd.AddCommand(sastCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(batchSignCmd())
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("sherlock failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "sherlock",
	Short:        "Runs security scanners and signing tools against git repositories",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a sherlock",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("sherlock: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("sherlock: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initSherlock(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("SHERLOCKCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "sherlock.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	v := viper.New()
	model.SetDefaults(v)
	v.SetEnvPrefix("SHERLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the token lives in memory only, it is never part of the config file
	if err := v.BindEnv("git.token", "SHERLOCK_GIT_TOKEN", "GITHUB_TOKEN"); err != nil {
		return fmt.Errorf("binding git token: %w", err)
	}

	// store default configuration
	if configPath == "" {
		configPath = filepath.Join(userConfigPath, "sherlock.yaml")
		if err := storeDefaultConfig(configPath); err != nil {
			return err
		}
	} else {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	var err error
	config, err = model.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	// initialize logging
	logOut = log.Output(config.Service.Log)
	slog.SetDefault(log.New(logOut, config.Service.Verbose))

	slog.Debug("sherlock run", "configPath", configPath)
	slog.Debug("sherlock run", "config", config)
	return nil
}

func storeDefaultConfig(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	err = enc.Encode(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
