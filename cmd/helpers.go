package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/revgraph/internal/config"
	"github.com/maxkimambo/revgraph/internal/history"
	"github.com/maxkimambo/revgraph/internal/logger"
)

// loadConfig resolves the configuration layers and then applies the flags the
// user actually set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.LLM.Provider, _ = flags.GetString("provider")
	}
	if flags.Changed("model") {
		cfg.LLM.Model, _ = flags.GetString("model")
	}
	if flags.Changed("output") {
		cfg.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("max-files") {
		cfg.Scan.MaxFilesPerAnalyzer, _ = flags.GetInt("max-files")
	}
	if flags.Changed("max-parallel") {
		cfg.Scheduler.MaxParallel, _ = flags.GetInt("max-parallel")
	}
	if flags.Changed("timeout") {
		cfg.Scheduler.RunTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("ignore") {
		ignore, _ := flags.GetStringSlice("ignore")
		cfg.Scan.Ignore = append(cfg.Scan.Ignore, ignore...)
	}
	if flags.Changed("all-files") {
		all, _ := flags.GetBool("all-files")
		cfg.Scan.CodeOnly = !all
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL, _ = flags.GetString("database-url")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "HCL configuration file (default: "+config.DefaultFile+" when present)")
	cmd.Flags().String("env-file", "", "dotenv file to load (default: .env)")
}

// openHistory connects to the run history database and makes sure the tables
// exist. The returned close function is never nil.
func openHistory(ctx context.Context, databaseURL string) (*history.Store, func(), error) {
	pool, err := history.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, func() {}, err
	}
	store := history.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, func() {}, err
	}
	logger.Op.Debug("Run history enabled")
	return store, pool.Close, nil
}
