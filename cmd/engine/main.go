// Package main - точка входа движка оценки и прогресса.
//
// Команды:
//
//	engine serve        REST API, фоновые задачи, шина событий
//	engine migrate      миграции схемы (postgres, sqlite)
//	engine score FILE   оценки и XP для журнала событий без сохранения
//	engine curriculum   проверка и вывод учебного плана
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// app - общее состояние, которое корневая команда готовит для подкоманд.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "engine",
		Short:         "Cognitive scoring and progression engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Конфигурация нужна не всем командам: score и curriculum работают
	// без окружения.
	needsConfig := func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.cfg = cfg
		a.log = newLogger(cfg).With(logger.String("command", cmd.Name()))
		return nil
	}

	root.AddCommand(
		newServeCmd(a, needsConfig),
		newMigrateCmd(a, needsConfig),
		newScoreCmd(),
		newCurriculumCmd(),
	)
	return root
}

// newLogger настраивает структурированное логирование.
func newLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	if cfg.Observability.LogFormat == string(logger.FormatText) {
		opts.Format = logger.FormatText
	}
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}
