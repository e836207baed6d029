package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

type pgAuditLogRepository struct {
	db *sql.DB
}

func NewPgAuditLogRepository(db *sql.DB) repository.AuditLogRepository {
	return &pgAuditLogRepository{db: db}
}

func (r *pgAuditLogRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	query := `INSERT INTO audit_logs (created_at, usuario_id, ip, accion, datos, codigo)
	           VALUES (CURRENT_TIMESTAMP, $1, $2, $3, $4, $5)
	           RETURNING id, created_at`
	var ip sql.NullString
	if entry.IP != "" {
		ip = sql.NullString{String: entry.IP, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query, entry.UsuarioID, ip, entry.Accion, entry.Datos, entry.Codigo).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("AuditLogRepository.Create: %w", err)
	}
	entry.CreatedAt = entry.CreatedAt.In(time.UTC)
	return nil
}

func (r *pgAuditLogRepository) Find(ctx context.Context, codigo *string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, created_at, usuario_id, ip, accion, datos, codigo FROM audit_logs`
	args := []any{}
	if codigo != nil && *codigo != "" {
		args = append(args, *codigo)
		query += fmt.Sprintf(" WHERE codigo = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("AuditLogRepository.Find: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		var ip sql.NullString
		if err := rows.Scan(&entry.ID, &entry.CreatedAt, &entry.UsuarioID, &ip, &entry.Accion, &entry.Datos, &entry.Codigo); err != nil {
			return nil, fmt.Errorf("AuditLogRepository.Find (scanning row): %w", err)
		}
		if ip.Valid {
			entry.IP = ip.String
		}
		entry.CreatedAt = entry.CreatedAt.In(time.UTC)
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("AuditLogRepository.Find (rows error): %w", err)
	}
	return entries, nil
}
