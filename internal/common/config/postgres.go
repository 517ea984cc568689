package config

import "time"

type PostgresConfig struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	Connection      map[string]string `validate:"required"`
}
