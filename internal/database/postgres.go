package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

// Config carries the ledger store connection settings.
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

func loadConfig() *Config {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "backoffice")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.name", "backoffice")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.connect_attempts", 5)

	return &Config{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		ConnectAttempts: viper.GetInt("database.connect_attempts"),
	}
}

// Open connects to the ledger store and verifies the connection, retrying
// the ping so a service restart does not race the database coming up.
func Open() (*sql.DB, error) {
	cfg := loadConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	for attempt := 1; ; attempt++ {
		err = db.Ping()
		if err == nil {
			break
		}
		if attempt >= cfg.ConnectAttempts {
			db.Close()
			return nil, fmt.Errorf("ping ledger store after %d attempts: %w", attempt, err)
		}
		log.Printf("[DB] Ledger store not ready (attempt %d/%d): %v", attempt, cfg.ConnectAttempts, err)
		time.Sleep(2 * time.Second)
	}

	log.Printf("[DB] Connected to %s/%s (pool: %d open, %d idle)",
		cfg.Host, cfg.Name, cfg.MaxOpenConns, cfg.MaxIdleConns)
	return db, nil
}

// InitDatabase opens the ledger store or aborts the process.
func InitDatabase() *sql.DB {
	db, err := Open()
	if err != nil {
		log.Fatalf("[DB] %v", err)
	}
	return db
}
