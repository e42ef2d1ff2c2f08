package main

import (
	"fmt"

	"github.com/arasmith/signalbox/internal/config"
	"github.com/arasmith/signalbox/internal/db"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// loadConfig reads the config file named by the root --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// openDB connects to the store selected by the configuration.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DB.Driver {
	case "sqlite":
		return db.ConnectSQLite(cfg.DB.Path)
	case "mysql":
		return db.Connect(cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	}
	return nil, fmt.Errorf("sbx: unsupported db driver %q", cfg.DB.Driver)
}
