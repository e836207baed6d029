package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JebGy/parkingiot/internal/domain"
	"github.com/JebGy/parkingiot/internal/repository"
)

type pgParkingSpaceRepository struct {
	db *sql.DB
}

func NewPgParkingSpaceRepository(db *sql.DB) repository.ParkingSpaceRepository {
	return &pgParkingSpaceRepository{db: db}
}

func (r *pgParkingSpaceRepository) Upsert(ctx context.Context, space *domain.ParkingSpace) error {
	query := `INSERT INTO parking_spaces (id, occupied, updated_at)
	           VALUES ($1, $2, $3)
	           ON CONFLICT (id) DO UPDATE SET occupied = EXCLUDED.occupied, updated_at = EXCLUDED.updated_at
	           RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, space.ID, space.Occupied, space.UpdatedAt).Scan(&space.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ParkingSpaceRepository.Upsert: %w", err)
	}
	space.UpdatedAt = space.UpdatedAt.In(time.UTC)
	return nil
}

func (r *pgParkingSpaceRepository) FindByID(ctx context.Context, id int) (*domain.ParkingSpace, error) {
	space := &domain.ParkingSpace{}
	query := `SELECT id, occupied, updated_at FROM parking_spaces WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&space.ID, &space.Occupied, &space.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSpaceRepository.FindByID: %w", err)
	}
	space.UpdatedAt = space.UpdatedAt.In(time.UTC)
	return space, nil
}

func (r *pgParkingSpaceRepository) FindAll(ctx context.Context) ([]domain.ParkingSpace, error) {
	query := `SELECT id, occupied, updated_at FROM parking_spaces ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ParkingSpaceRepository.FindAll: %w", err)
	}
	defer rows.Close()

	var spaces []domain.ParkingSpace
	for rows.Next() {
		var space domain.ParkingSpace
		if err := rows.Scan(&space.ID, &space.Occupied, &space.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ParkingSpaceRepository.FindAll (scanning row): %w", err)
		}
		space.UpdatedAt = space.UpdatedAt.In(time.UTC)
		spaces = append(spaces, space)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSpaceRepository.FindAll (rows error): %w", err)
	}
	return spaces, nil
}

func (r *pgParkingSpaceRepository) SetOccupied(ctx context.Context, id int, occupied bool, at time.Time) error {
	query := `UPDATE parking_spaces SET occupied = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, occupied, at, id)
	if err != nil {
		return fmt.Errorf("ParkingSpaceRepository.SetOccupied: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSpaceRepository.SetOccupied (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type pgSpaceLogRepository struct {
	db *sql.DB
}

func NewPgSpaceLogRepository(db *sql.DB) repository.SpaceLogRepository {
	return &pgSpaceLogRepository{db: db}
}

func (r *pgSpaceLogRepository) Create(ctx context.Context, entry *domain.SpaceLog) error {
	query := `INSERT INTO space_logs (space_id, occupied, ts, ip)
	           VALUES ($1, $2, $3, $4)
	           RETURNING id`
	var ip sql.NullString
	if entry.IP != "" {
		ip = sql.NullString{String: entry.IP, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query, entry.SpaceID, entry.Occupied, entry.Timestamp, ip).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("SpaceLogRepository.Create: %w", err)
	}
	return nil
}

func (r *pgSpaceLogRepository) FindLastOccupied(ctx context.Context, spaceID int, before time.Time) (*domain.SpaceLog, error) {
	entry := &domain.SpaceLog{}
	query := `SELECT id, space_id, occupied, ts, ip
	           FROM space_logs
	           WHERE space_id = $1 AND occupied = TRUE AND ts < $2
	           ORDER BY ts DESC LIMIT 1`
	var ip sql.NullString
	err := r.db.QueryRowContext(ctx, query, spaceID, before).
		Scan(&entry.ID, &entry.SpaceID, &entry.Occupied, &entry.Timestamp, &ip)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("SpaceLogRepository.FindLastOccupied: %w", err)
	}
	if ip.Valid {
		entry.IP = ip.String
	}
	entry.Timestamp = entry.Timestamp.In(time.UTC)
	return entry, nil
}

func (r *pgSpaceLogRepository) CountBySpace(ctx context.Context) (map[int]domain.SpaceStats, error) {
	query := `SELECT space_id,
	                  COUNT(*) FILTER (WHERE occupied) AS occupied_count,
	                  COUNT(*) FILTER (WHERE NOT occupied) AS free_count
	           FROM space_logs GROUP BY space_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("SpaceLogRepository.CountBySpace: %w", err)
	}
	defer rows.Close()

	stats := make(map[int]domain.SpaceStats)
	for rows.Next() {
		var spaceID int
		var s domain.SpaceStats
		if err := rows.Scan(&spaceID, &s.OccupiedCount, &s.FreeCount); err != nil {
			return nil, fmt.Errorf("SpaceLogRepository.CountBySpace (scanning row): %w", err)
		}
		stats[spaceID] = s
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("SpaceLogRepository.CountBySpace (rows error): %w", err)
	}
	return stats, nil
}
