package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"gorm.io/gorm"
)

// configFlags are shared by every command that reads signalbox.yaml.
type configFlags struct {
	path    string
	envFile string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "signalbox.yaml", "path to signalbox config file")
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the config (ignored if missing)")
}

// load reads the dotenv file, if any, then the YAML config. Variables already
// set in the environment win over the dotenv file.
func (f *configFlags) load() (*config.Config, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}
	cfg, err := config.Load(f.path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openDB connects and migrates the configured database.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}
