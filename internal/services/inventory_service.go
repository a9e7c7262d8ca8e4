package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/linenloft/api/internal/domain"
	"github.com/linenloft/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates the caller supplied invalid input parameters.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the variant does not exist.
	ErrInventoryNotFound = errors.New("inventory: variant not found")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryUnavailable indicates the stock ledger is currently unreachable.
	ErrInventoryUnavailable = errors.New("inventory: unavailable")
)

// InventoryServiceDeps wires the dependencies required by the inventory service.
type InventoryServiceDeps struct {
	Variants repositories.VariantRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	variants repositories.VariantRepository
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewInventoryService constructs an InventoryService validating required dependencies.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Variants == nil {
		return nil, errors.New("inventory service: variant repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{variants: deps.Variants, logger: logger}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, variantID string, qty int) error {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" || qty <= 0 {
		return ErrInventoryInvalidInput
	}
	if err := s.variants.Reserve(ctx, variantID, qty); err != nil {
		return s.translate(err)
	}
	return nil
}

func (s *inventoryService) Restore(ctx context.Context, variantID string, qty int) error {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" || qty <= 0 {
		return ErrInventoryInvalidInput
	}
	if err := s.variants.Restore(ctx, variantID, qty); err != nil {
		return s.translate(err)
	}
	return nil
}

func (s *inventoryService) Availability(ctx context.Context, variantID string) (domain.Variant, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return domain.Variant{}, ErrInventoryInvalidInput
	}
	v, err := s.variants.Get(ctx, variantID)
	if err != nil {
		return domain.Variant{}, s.translate(err)
	}
	return v, nil
}

func (s *inventoryService) translate(err error) error {
	if repoErr, ok := repositories.AsRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return ErrInventoryNotFound
		case repoErr.IsInsufficientStock():
			return ErrInventoryInsufficientStock
		case repoErr.IsConflict():
			return ErrInventoryInvalidInput
		}
	}
	return ErrInventoryUnavailable
}
