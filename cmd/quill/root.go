package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teilomillet/quill/config"
	quillerrors "github.com/teilomillet/quill/errors"
)

const version = "v0.1.0"

const defaultConfigPath = "quill.yaml"

// app carries the state shared by every command.
type app struct {
	configPath string
	envFiles   []string

	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "quill",
		Short:         "Rewrite chat messages in the tone of a filter",
		Long:          "quill transforms chat messages through an LLM provider so they read in the tone of a named filter, such as PIRATE or SHAKESPEARE.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "Environment files loaded before the configuration")

	root.AddCommand(
		newServeCmd(a),
		newTransformCmd(a),
		newValidateCmd(a),
		newFiltersCmd(a),
	)
	return root
}

// setup loads environment files and configuration, then builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadEnvFiles(a.envFiles...); err != nil {
		return err
	}
	cfg, err := a.loadConfig(cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.level = zap.NewAtomicLevel()
	logger, err := buildLogger(cfg.Logging, a.level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	quillerrors.SetLogger(logger)
	return nil
}

// loadConfig reads the configuration file. A missing default file yields
// the defaults with credentials taken from the environment.
func (a *app) loadConfig(explicit bool) (*config.Config, error) {
	cfg, err := config.LoadFile(a.configPath)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Load(strings.NewReader(""))
	}
	return nil, err
}

// buildLogger creates a zap logger on stderr honouring the configured
// level and format.
func buildLogger(cfg config.LoggingConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	zc := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
