package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/agentmap/internal/catalog"
)

const compilationColumns = `id, guid, graph_name, source_path, source_hash, output_path, outcome,
	node_count, service_count, duration_ms, error, created_at`

// compilationModel is the row shape of the compilations table.
type compilationModel struct {
	ID           int64
	GUID         string
	GraphName    string
	SourcePath   *string // nullable
	SourceHash   *string // nullable
	OutputPath   *string // nullable
	Outcome      string
	NodeCount    int
	ServiceCount int
	DurationMS   int64
	Error        *string // nullable
	CreatedAt    int64   // Unix milliseconds
}

func toCompilationModel(e *catalog.Entry) *compilationModel {
	return &compilationModel{
		ID:           e.ID,
		GUID:         e.GUID,
		GraphName:    e.GraphName,
		SourcePath:   nullable(e.SourcePath),
		SourceHash:   nullable(e.SourceHash),
		OutputPath:   nullable(e.OutputPath),
		Outcome:      string(e.Outcome),
		NodeCount:    e.NodeCount,
		ServiceCount: e.ServiceCount,
		DurationMS:   e.Duration.Milliseconds(),
		Error:        nullable(e.Error),
		CreatedAt:    e.CreatedAt.UnixMilli(),
	}
}

func (m *compilationModel) toDomain() *catalog.Entry {
	return &catalog.Entry{
		ID:           m.ID,
		GUID:         m.GUID,
		GraphName:    m.GraphName,
		SourcePath:   deref(m.SourcePath),
		SourceHash:   deref(m.SourceHash),
		OutputPath:   deref(m.OutputPath),
		Outcome:      catalog.Outcome(m.Outcome),
		NodeCount:    m.NodeCount,
		ServiceCount: m.ServiceCount,
		Duration:     time.Duration(m.DurationMS) * time.Millisecond,
		Error:        deref(m.Error),
		CreatedAt:    time.UnixMilli(m.CreatedAt),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// compilationRepository implements catalog.Repository using SQLite.
type compilationRepository struct {
	db *sql.DB
}

func newCompilationRepository(db *sql.DB) *compilationRepository {
	return &compilationRepository{db: db}
}

// Ensure compilationRepository implements catalog.Repository.
var _ catalog.Repository = (*compilationRepository)(nil)

func scanCompilation(scanner interface{ Scan(...any) error }) (*compilationModel, error) {
	var m compilationModel
	err := scanner.Scan(
		&m.ID, &m.GUID, &m.GraphName, &m.SourcePath, &m.SourceHash, &m.OutputPath, &m.Outcome,
		&m.NodeCount, &m.ServiceCount, &m.DurationMS, &m.Error, &m.CreatedAt,
	)
	return &m, err
}

func (r *compilationRepository) Save(ctx context.Context, e *catalog.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m := toCompilationModel(e)

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO compilations (
			guid, graph_name, source_path, source_hash, output_path, outcome,
			node_count, service_count, duration_ms, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.GUID, m.GraphName, m.SourcePath, m.SourceHash, m.OutputPath, m.Outcome,
		m.NodeCount, m.ServiceCount, m.DurationMS, m.Error, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert compilation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *compilationRepository) Latest(ctx context.Context, graphName string) (*catalog.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+compilationColumns+` FROM compilations WHERE graph_name = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		graphName,
	)
	m, err := scanCompilation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &catalog.EntryNotFoundError{GraphName: graphName}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest compilation: %w", err)
	}
	return m.toDomain(), nil
}

func (r *compilationRepository) List(ctx context.Context, filter catalog.ListFilter) ([]*catalog.Entry, error) {
	query := `SELECT ` + compilationColumns + ` FROM compilations WHERE 1 = 1`
	var args []any

	if filter.GraphName != "" {
		query += ` AND graph_name = ?`
		args = append(args, filter.GraphName)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list compilations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*catalog.Entry
	for rows.Next() {
		m, err := scanCompilation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compilation: %w", err)
		}
		entries = append(entries, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate compilations: %w", err)
	}
	return entries, nil
}

func (r *compilationRepository) Prune(ctx context.Context, graphName string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM compilations WHERE graph_name = ? AND id NOT IN (
			SELECT id FROM compilations WHERE graph_name = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`,
		graphName, graphName, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune compilations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
