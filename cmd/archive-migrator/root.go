package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/archive-migrator/internal/config"
)

// globalFlags — флаги корневой команды.
type globalFlags struct {
	configPath    string
	batchSize     int
	maxConcurrent int
}

// rootCommand собирает дерево команд.
func rootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:          "archive-migrator",
		Short:        "Перенос файлов Slack в Google Drive",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "путь к YAML-файлу конфигурации")
	rootCmd.PersistentFlags().IntVar(&flags.batchSize, "batch-size", 0, "размер пачки (переопределяет migration.batch_size)")
	rootCmd.PersistentFlags().IntVar(&flags.maxConcurrent, "max-concurrent", 0, "число параллельных переносов (переопределяет migration.max_concurrent)")

	rootCmd.AddCommand(
		migrateCommand(flags),
		serveCommand(flags),
		bothCommand(flags),
		statsCommand(flags),
		retryCommand(flags),
		versionCommand(),
	)
	return rootCmd
}

// loadConfig загружает конфигурацию, применяет флаги и настраивает логгер.
func loadConfig(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if err := cfg.ApplyOverrides(flags.batchSize, flags.maxConcurrent); err != nil {
		return nil, nil, err
	}

	logger := config.SetupLogger(cfg)
	logger.Info("archive-migrator запускается",
		slog.String("version", config.Version),
		slog.String("db_driver", cfg.DBDriver),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("max_concurrent", cfg.MaxConcurrent),
	)
	return cfg, logger, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Версия сборки",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	}
}
