// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package recorderdb

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/scanrec/scanrec/pkg/log"
)

const supportedVersion uint = 1

//go:embed migrations/*
var migrationFiles embed.FS

// checkVersion applies any pending migrations up to supportedVersion. The
// recorder daemon owns the only writer of its SQLite database, so an
// automatic up-migration on startup is safe — there is no multi-process
// coordination problem to guard against, since only one daemon instance
// ever holds the listener at a time.
func checkVersion(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("recorderdb: migration driver: %w", err)
	}
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("recorderdb: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("recorderdb: migration instance: %w", err)
	}

	v, _, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("recorderdb: reading schema version: %w", err)
	}
	if uint(v) >= supportedVersion {
		return nil
	}
	log.Infof("recorderdb: migrating schema from version %d to %d", v, supportedVersion)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("recorderdb: applying migrations: %w", err)
	}
	return nil
}
