// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package recorderdb is the recorder daemon's relational session over a
// single records table (spec.md §4.6), grounded on
// internal/repository/{dbConnection,hooks,migration}.go's sqlx +
// sqlhooks + golang-migrate wiring, narrowed to a sqlite3-only backend.
package recorderdb

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

// Store wraps the recorder's SQLite session.
type Store struct {
	db *sqlx.DB
}

var driverRegistered = false

// Connect opens (creating if necessary) the SQLite database at dsn and
// brings its schema up to date.
func Connect(dsn string) (*Store, error) {
	if !driverRegistered {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
		driverRegistered = true
	}

	db, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dsn))
	if err != nil {
		return nil, fmt.Errorf("recorderdb: open %s: %w", dsn, err)
	}
	// SQLite does not multithread; one connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if err := checkVersion(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordRow is one records-table row, with its associated tags.
type RecordRow struct {
	ID    int64
	App   string
	Ctime time.Time
	File  string
	Tags  []string
}

// CreateRecord inserts a new records row and its tag associations,
// returning the allocated id — the recorder's record_create handler.
func (s *Store) CreateRecord(app string, tags []string, ctime time.Time, file string) (int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO records (app, ctime, file) VALUES (?, ?, ?)`, app, ctime, file)
	if err != nil {
		return 0, fmt.Errorf("recorderdb: insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, tag := range tags {
		if _, err := tx.Exec(`INSERT INTO record_tags (record_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return 0, fmt.Errorf("recorderdb: insert tag: %w", err)
		}
	}
	return id, tx.Commit()
}

// GetRecordFile returns the header chunk path stored for id.
func (s *Store) GetRecordFile(id int64) (string, error) {
	var file string
	err := s.db.Get(&file, `SELECT file FROM records WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("recorderdb: no record with id %d", id)
	}
	return file, err
}

// DeleteRecord removes a records row and its tag associations.
func (s *Store) DeleteRecord(id int64) error {
	_, err := s.db.Exec(`DELETE FROM records WHERE id = ?`, id)
	return err
}

// QueryFilter selects which records a QueryRecords call returns.
type QueryFilter struct {
	App    string // "" = no filter; trailing "*" becomes a SQL LIKE prefix
	Tags   []string
	Before *time.Time
	After  *time.Time
	Offset int
	Limit  int
}

func (f QueryFilter) conditions() []sq.Sqlizer {
	var conds []sq.Sqlizer
	if len(f.Tags) > 0 {
		conds = append(conds, sq.Eq{"record_tags.tag": f.Tags})
	}
	if f.App != "" {
		if f.App[len(f.App)-1] == '*' {
			conds = append(conds, sq.Like{"records.app": f.App[:len(f.App)-1] + "%"})
		} else {
			conds = append(conds, sq.Eq{"records.app": f.App})
		}
	}
	if f.Before != nil {
		conds = append(conds, sq.Lt{"records.ctime": *f.Before})
	}
	if f.After != nil {
		conds = append(conds, sq.Gt{"records.ctime": *f.After})
	}
	return conds
}

// QueryRecords runs the filtered, paginated listing backing query_record
// (spec.md §4.7), built with squirrel rather than hand-concatenated SQL.
func (s *Store) QueryRecords(f QueryFilter) (total int, rows []RecordRow, err error) {
	conds := f.conditions()
	needsJoin := len(f.Tags) > 0

	countQ := sq.Select("COUNT(DISTINCT records.id)").From("records").PlaceholderFormat(sq.Question)
	pageQ := sq.Select("records.id", "records.app", "records.ctime", "records.file").
		From("records").PlaceholderFormat(sq.Question)
	if needsJoin {
		countQ = countQ.Join("record_tags ON record_tags.record_id = records.id")
		pageQ = pageQ.Join("record_tags ON record_tags.record_id = records.id")
	}
	for _, c := range conds {
		countQ = countQ.Where(c)
		pageQ = pageQ.Where(c)
	}

	countSQL, countArgs, err := countQ.ToSql()
	if err != nil {
		return 0, nil, err
	}
	if err := s.db.Get(&total, countSQL, countArgs...); err != nil {
		return 0, nil, fmt.Errorf("recorderdb: count query: %w", err)
	}

	page := pageQ.GroupBy("records.id").OrderBy("records.ctime DESC")
	if f.Limit > 0 {
		page = page.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		page = page.Offset(uint64(f.Offset))
	}
	pageSQL, pageArgs, err := page.ToSql()
	if err != nil {
		return 0, nil, err
	}

	var plain []struct {
		ID    int64     `db:"id"`
		App   string    `db:"app"`
		Ctime time.Time `db:"ctime"`
		File  string    `db:"file"`
	}
	if err := s.db.Select(&plain, pageSQL, pageArgs...); err != nil {
		return 0, nil, fmt.Errorf("recorderdb: page query: %w", err)
	}

	rows = make([]RecordRow, len(plain))
	for i, p := range plain {
		tags, err := s.tagsFor(p.ID)
		if err != nil {
			return 0, nil, err
		}
		rows[i] = RecordRow{ID: p.ID, App: p.App, Ctime: p.Ctime, File: p.File, Tags: tags}
	}
	return total, rows, nil
}

func (s *Store) tagsFor(id int64) ([]string, error) {
	var tags []string
	err := s.db.Select(&tags, `SELECT tag FROM record_tags WHERE record_id = ?`, id)
	return tags, err
}
