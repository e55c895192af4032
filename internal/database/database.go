package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sleepstars/baidubackup/internal/model"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNoEntry 尚未完成授权配置
var ErrNoEntry = errors.New("config entry not found")

type Database struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(dbPath string, logger *zap.Logger) (*Database, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Database{
		db:     db,
		logger: logger,
	}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveEntry 保存或更新唯一的授权配置
func (d *Database) SaveEntry(token string) error {
	now := time.Now().UTC()
	_, err := d.db.Exec(`
		INSERT INTO config_entries (id, token, created_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		token, now, now)
	if err != nil {
		return fmt.Errorf("save config entry: %w", err)
	}
	return nil
}

func (d *Database) Entry() (*model.ConfigEntry, error) {
	var e model.ConfigEntry
	err := d.db.QueryRow("SELECT token, created_at, updated_at FROM config_entries WHERE id = 1").
		Scan(&e.Token, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoEntry
	}
	if err != nil {
		return nil, fmt.Errorf("query config entry: %w", err)
	}
	return &e, nil
}

func (d *Database) DeleteEntry() error {
	if _, err := d.db.Exec("DELETE FROM config_entries WHERE id = 1"); err != nil {
		return fmt.Errorf("delete config entry: %w", err)
	}
	return nil
}

func (d *Database) InsertUpload(rec *model.UploadRecord) error {
	_, err := d.db.Exec(`
		INSERT INTO uploads (id, file_name, remote_path, status, trigger_source, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FileName, rec.RemotePath, string(rec.Status), rec.Trigger, rec.Error, rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// FinishUpload 记录上传结果
func (d *Database) FinishUpload(id string, status model.BackupStatus, errMsg string, finishedAt time.Time) error {
	res, err := d.db.Exec(`
		UPDATE uploads SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish upload: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish upload: record %s not found", id)
	}
	return nil
}

func (d *Database) ListUploads(limit int) ([]model.UploadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(`
		SELECT id, file_name, remote_path, status, trigger_source, error, started_at, finished_at
		FROM uploads ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var records []model.UploadRecord
	for rows.Next() {
		rec, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LastSuccessfulUpload 最近一次成功的上传
func (d *Database) LastSuccessfulUpload() (*model.UploadRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, file_name, remote_path, status, trigger_source, error, started_at, finished_at
		FROM uploads WHERE status = ? ORDER BY started_at DESC LIMIT 1`, string(model.StatusSuccess))
	if err != nil {
		return nil, fmt.Errorf("query last upload: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanUpload(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanUpload(rows *sql.Rows) (model.UploadRecord, error) {
	var (
		rec      model.UploadRecord
		status   string
		finished sql.NullTime
	)
	if err := rows.Scan(&rec.ID, &rec.FileName, &rec.RemotePath, &status, &rec.Trigger,
		&rec.Error, &rec.StartedAt, &finished); err != nil {
		return rec, fmt.Errorf("scan upload: %w", err)
	}
	rec.Status = model.BackupStatus(status)
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return rec, nil
}
