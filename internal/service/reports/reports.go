package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/storage"
)

const maxReason = 500

type Store interface {
	SaveReport(ctx context.Context, report models.Report) (models.Report, error)
	ListReports(ctx context.Context) ([]models.Report, error)
	UserByID(ctx context.Context, id string) (models.User, error)
	ProductByID(ctx context.Context, id string) (models.Product, error)
}

type Service struct {
	log   *slog.Logger
	store Store
}

func New(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store}
}

// Create files a report by reporterID, the authenticated caller, against a
// user or product.
func (s *Service) Create(ctx context.Context, reporterID, targetID, reason string) (models.Report, error) {
	const op = "reports.Create"

	reason = strings.TrimSpace(reason)
	switch {
	case reason == "":
		return models.Report{}, models.Invalid("reason", "is required")
	case utf8.RuneCountInString(reason) > maxReason:
		return models.Report{}, models.Invalid("reason", fmt.Sprintf("must be at most %d characters", maxReason))
	}

	targetID, kind, err := s.targetKind(ctx, targetID)
	if err != nil {
		return models.Report{}, err
	}

	report, err := s.store.SaveReport(ctx, models.Report{
		ID:         uuid.NewString(),
		ReporterID: reporterID,
		TargetID:   targetID,
		TargetKind: kind,
		Reason:     reason,
	})
	if err != nil {
		s.log.Error("Failed to save report", slog.String("op", op), slog.String("error", err.Error()))
		return models.Report{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("Report filed",
		slog.String("report_id", report.ID),
		slog.String("reporter_id", reporterID),
		slog.String("target_kind", string(kind)),
	)

	return report, nil
}

func (s *Service) targetKind(ctx context.Context, targetID string) (string, models.TargetKind, error) {
	targetID, ok := models.CanonicalID(targetID)
	if !ok {
		return "", "", models.Invalid("target_id", "unknown target")
	}

	_, err := s.store.UserByID(ctx, targetID)
	if err == nil {
		return targetID, models.TargetUser, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return "", "", fmt.Errorf("reports.targetKind: %w", err)
	}

	_, err = s.store.ProductByID(ctx, targetID)
	if err == nil {
		return targetID, models.TargetProduct, nil
	}
	if !errors.Is(err, storage.ErrProductNotFound) {
		return "", "", fmt.Errorf("reports.targetKind: %w", err)
	}

	return "", "", models.Invalid("target_id", "unknown target")
}

func (s *Service) List(ctx context.Context) ([]models.Report, error) {
	reports, err := s.store.ListReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("reports.List: %w", err)
	}
	return reports, nil
}
