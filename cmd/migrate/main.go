/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/golang-migrate/migrate"
	_ "github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"

	"github.com/provideplatform/questproof/common"
)

type migrationConfig struct {
	Source string `env:"MIGRATIONS_SOURCE" envDefault:"file://./migrations"`

	DatabaseHost     string `env:"DATABASE_HOST" envDefault:"localhost"`
	DatabasePort     int    `env:"DATABASE_PORT" envDefault:"5432"`
	DatabaseName     string `env:"DATABASE_NAME" envDefault:"questproof_dev"`
	DatabaseUser     string `env:"DATABASE_USER" envDefault:"questproof"`
	DatabasePassword string `env:"DATABASE_PASSWORD"`
	DatabaseSSLMode  string `env:"DATABASE_SSL_MODE" envDefault:"disable"`
}

// dsn renders the postgres connection url understood by the migrate postgres driver
func (c *migrationConfig) dsn() string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DatabaseHost, c.DatabasePort),
		Path:   c.DatabaseName,
	}
	if c.DatabasePassword != "" {
		u.User = url.UserPassword(c.DatabaseUser, c.DatabasePassword)
	} else {
		u.User = url.User(c.DatabaseUser)
	}

	q := url.Values{}
	q.Set("sslmode", c.DatabaseSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func main() {
	cfg := &migrationConfig{}
	if err := env.Parse(cfg); err != nil {
		common.Log.Panicf("failed to parse migration configuration; %s", err.Error())
	}

	if err := migrateUp(cfg); err != nil {
		common.Log.Panicf("migrations failed; %s", err.Error())
	}
}

func migrateUp(cfg *migrationConfig) error {
	m, err := migrate.New(cfg.Source, cfg.dsn())
	if err != nil {
		return fmt.Errorf("failed to initialize migrations from %s; %s", cfg.Source, err.Error())
	}
	defer m.Close()

	err = m.Up()
	if err == migrate.ErrNoChange {
		common.Log.Debugf("no migrations to apply for database %s", cfg.DatabaseName)
		return nil
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	common.Log.Debugf("migrated database %s to version %d; dirty: %v", cfg.DatabaseName, version, dirty)
	return nil
}
