package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/defenseunicorns/perfkit-hub/internal/data/db"
	"github.com/defenseunicorns/perfkit-hub/internal/log"
	"github.com/defenseunicorns/perfkit-hub/internal/sql"
)

// Config is the database table-init migrates, read from the environment.
type Config struct {
	DBType                 string
	DBPath                 string
	DSN                    string
	InstanceConnectionName string
	DBUser                 string
	DBPassword             string
	DBName                 string
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getConfig() Config {
	return Config{
		DBType:                 getEnv("DB_TYPE", sql.TypePostgres),
		DBPath:                 getEnv("DB_PATH", "perfkit-hub.db"),
		DSN:                    getEnv("DATABASE_URL", "host=localhost port=5432 user=test_user dbname=test_db password=test_password sslmode=disable"),
		InstanceConnectionName: getEnv("INSTANCE_CONNECTION_NAME", ""),
		DBUser:                 getEnv("DB_USER", ""),
		DBPassword:             getEnv("DB_PASSWORD", ""),
		DBName:                 getEnv("DB_NAME", ""),
	}
}

func (c *Config) dbConfig() sql.DBConfig {
	return sql.DBConfig{
		Type:                   c.DBType,
		Path:                   c.DBPath,
		DSN:                    c.DSN,
		InstanceConnectionName: c.InstanceConnectionName,
		User:                   c.DBUser,
		Password:               c.DBPassword,
		Name:                   c.DBName,
		Verbose:                true,
	}
}

type connectorFactory func(sql.DBConfig) (sql.DBConnector, error)

func migrateDatabase(database *gorm.DB) error {
	return db.Migrate(database)
}

func run(ctx context.Context, config *Config, newConnector connectorFactory, migrate func(*gorm.DB) error) error {
	connector, err := newConnector(config.dbConfig())
	if err != nil {
		return fmt.Errorf("failed to create database connector: %w", err)
	}
	database, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrate(database); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func main() {
	ctx := context.Background()
	logger := log.NewLogger(ctx)
	config := getConfig()
	if err := run(ctx, &config, sql.CreateDBConnector, migrateDatabase); err != nil {
		logger.Fatalf("Table init failed", zap.Error(err))
	}
	logger.Info("Tables migrated", zap.String("db_type", config.DBType))
}
