package sql

import (
	"context"
	"fmt"
	"net"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database types understood by CreateDBConnector.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeCloudSQL = "cloudsql"
)

// DBConfig holds the connection settings of the run store.
type DBConfig struct {
	Type string `mapstructure:"type"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// DSN is the postgres connection string.
	DSN                    string `mapstructure:"dsn"`
	InstanceConnectionName string `mapstructure:"instance_connection_name"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	Name                   string `mapstructure:"name"`
	// Verbose logs every SQL statement.
	Verbose bool `mapstructure:"verbose"`
}

// DBConnector is an interface for database connections.
type DBConnector interface {
	Connect(ctx context.Context) (*gorm.DB, error)
}

func gormConfig(verbose bool) *gorm.Config {
	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(level)}
}

// SQLiteConnector implements DBConnector for SQLite connections.
type SQLiteConnector struct {
	dbPath  string
	verbose bool
}

// Connect connects to the SQLite database.
func (c *SQLiteConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(c.dbPath), gormConfig(c.verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	return database.WithContext(ctx), nil
}

// PostgresConnector implements DBConnector for postgres connection strings.
type PostgresConnector struct {
	dsn     string
	verbose bool
}

// Connect connects to the postgres database.
func (c *PostgresConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	database, err := gorm.Open(postgres.Open(c.dsn), gormConfig(c.verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	return database.WithContext(ctx), nil
}

// CloudSQLConnector implements DBConnector for Cloud SQL connections.
type CloudSQLConnector struct {
	instanceConnectionName string
	user                   string
	password               string
	dbname                 string
	verbose                bool
}

// Connect connects to the database using the Cloud SQL connection.
func (c *CloudSQLConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		// Fallback to using password if IAMAuthN fails
		dialer, err = cloudsqlconn.NewDialer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create dialer: %w", err)
		}
	}

	config, err := pgx.ParseConfig(fmt.Sprintf("user=%s password=%s dbname=%s sslmode=disable",
		c.user, c.password, c.dbname))
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	config.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.Dial(ctx, c.instanceConnectionName)
		if err != nil {
			return nil, fmt.Errorf("failed to dial Cloud SQL instance: %w", err)
		}
		return conn, nil
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: stdlib.OpenDB(*config),
	}), gormConfig(c.verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gorm with pgx connection: %w", err)
	}
	return gormDB.WithContext(ctx), nil
}

// CreateDBConnector is a factory function that returns the appropriate DBConnector.
func CreateDBConnector(cfg DBConfig) (DBConnector, error) {
	switch cfg.Type {
	case TypeSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path cannot be empty")
		}
		return &SQLiteConnector{dbPath: cfg.Path, verbose: cfg.Verbose}, nil
	case TypePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn cannot be empty")
		}
		return &PostgresConnector{dsn: cfg.DSN, verbose: cfg.Verbose}, nil
	case TypeCloudSQL:
		if cfg.InstanceConnectionName == "" {
			return nil, fmt.Errorf("cloud sql instance connection name cannot be empty")
		}
		return &CloudSQLConnector{
			instanceConnectionName: cfg.InstanceConnectionName,
			user:                   cfg.User,
			password:               cfg.Password,
			dbname:                 cfg.Name,
			verbose:                cfg.Verbose,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}
