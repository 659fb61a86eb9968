/*
 * Copyright 2026 Habitat Labs.
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

package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/habitatlabs/fleet/pkg/logger"
	"github.com/habitatlabs/fleet/pkg/models"
)

// ErrMissingDSN means the sink cannot be constructed. Per the startup
// contract this is fatal: everything after construction degrades
// gracefully, but a sink with no address is a misconfiguration.
var ErrMissingDSN = errors.New("postgres sink requires a dsn")

const (
	defaultDataTable   = "module_data"
	defaultHealthTable = "module_health"
)

// PostgresConfig configures the Postgres export sink.
type PostgresConfig struct {
	DSN         string `json:"dsn"`
	DataTable   string `json:"data_table,omitempty"`
	HealthTable string `json:"health_table,omitempty"`
}

// PostgresSink persists export batches to Postgres. Data inserts carry
// the ingest-generated record id and conflict-skip on
// (module_id, record_id), which makes the at-least-once export contract
// effectively idempotent.
type PostgresSink struct {
	pool        *pgxpool.Pool
	dataTable   string
	healthTable string
	logger      logger.Logger
}

// NewPostgresSink connects to the database. An empty DSN is a fatal
// configuration error.
func NewPostgresSink(ctx context.Context, config PostgresConfig, log logger.Logger) (*PostgresSink, error) {
	if config.DSN == "" {
		return nil, ErrMissingDSN
	}

	if config.DataTable == "" {
		config.DataTable = defaultDataTable
	}

	if config.HealthTable == "" {
		config.HealthTable = defaultHealthTable
	}

	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	return &PostgresSink{
		pool:        pool,
		dataTable:   config.DataTable,
		healthTable: config.HealthTable,
		logger:      log.WithComponent("postgres-sink"),
	}, nil
}

// ExportData inserts one module's telemetry batch.
func (p *PostgresSink) ExportData(ctx context.Context, records []models.DataExportRecord) error {
	if len(records) == 0 {
		return nil
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s (record_id, module_id, module_type, timestamp, data)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (module_id, record_id) DO NOTHING`,
		pgx.Identifier{p.dataTable}.Sanitize(),
	)

	batch := &pgx.Batch{}

	for _, rec := range records {
		payload, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", rec.RecordID, err)
		}

		batch.Queue(sql, rec.RecordID, rec.ModuleID, string(rec.ModuleType), rec.Timestamp, payload)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert data records: %w", err)
		}
	}

	return nil
}

// ExportHealth inserts the current health snapshots.
func (p *PostgresSink) ExportHealth(ctx context.Context, records []models.HealthExportRecord) error {
	if len(records) == 0 {
		return nil
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s (module_id, timestamp, status, cpu_temp, cpu_usage, memory_usage, disk_space, uptime)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pgx.Identifier{p.healthTable}.Sanitize(),
	)

	batch := &pgx.Batch{}

	for _, rec := range records {
		batch.Queue(sql,
			rec.ModuleID, rec.Timestamp, rec.Status,
			rec.CPUTemp, rec.CPUUsage, rec.MemoryUsage, rec.DiskSpace, rec.Uptime)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert health records: %w", err)
		}
	}

	return nil
}

// Close releases the connection pool.
func (p *PostgresSink) Close() {
	p.pool.Close()
}
