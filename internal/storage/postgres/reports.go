package postgres

import (
	"context"
	"fmt"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
)

func (s *Storage) SaveReport(ctx context.Context, report models.Report) (models.Report, error) {
	const op = "storage.postgres.SaveReport"

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reports (id, reporter_id, target_id, target_kind, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		report.ID, report.ReporterID, report.TargetID, string(report.TargetKind), report.Reason,
	).Scan(&report.CreatedAt)
	if err != nil {
		return models.Report{}, fmt.Errorf("%s: %w", op, err)
	}

	return report, nil
}

func (s *Storage) ListReports(ctx context.Context) ([]models.Report, error) {
	const op = "storage.postgres.ListReports"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reporter_id, target_id, target_kind, reason, created_at
		FROM reports
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.TargetID, &r.TargetKind, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reports, nil
}
