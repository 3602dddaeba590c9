package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tidewatch/internal/models"
)

var ErrEmptyParameterName = errors.New("parameter name is empty")

type ParameterRepository struct {
	db *gorm.DB
}

func NewParameterRepository(db *gorm.DB) *ParameterRepository {
	return &ParameterRepository{db: db}
}

func (r *ParameterRepository) WithTx(tx *gorm.DB) *ParameterRepository {
	return &ParameterRepository{db: tx}
}

// Resolve returns the parameter with the given name, creating it with unit
// when it does not exist. The insert runs in a nested transaction, which is a
// savepoint when the repository is bound to an outer transaction, so losing a
// race on the unique name leaves the caller's transaction usable. The loser
// re-reads the winner's row.
func (r *ParameterRepository) Resolve(ctx context.Context, name, unit string) (*models.Parameter, error) {
	name = models.NormalizeName(name)
	if name == "" {
		return nil, ErrEmptyParameterName
	}

	db := r.db.WithContext(ctx)

	parameter, err := r.findByName(db, name)
	if err == nil {
		return parameter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up parameter %s: %w", name, err)
	}

	parameter = &models.Parameter{Name: name, Unit: unit}
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(parameter).Error
	})
	if err == nil {
		return parameter, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("failed to create parameter %s: %w", name, err)
	}

	parameter, err = r.findByName(db, name)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read parameter %s after conflict: %w", name, err)
	}
	return parameter, nil
}

func (r *ParameterRepository) FindByName(ctx context.Context, name string) (*models.Parameter, error) {
	return r.findByName(r.db.WithContext(ctx), models.NormalizeName(name))
}

func (r *ParameterRepository) findByName(db *gorm.DB, name string) (*models.Parameter, error) {
	var parameter models.Parameter
	if err := db.Where("name = ?", name).First(&parameter).Error; err != nil {
		return nil, err
	}
	return &parameter, nil
}

func (r *ParameterRepository) FindAll(ctx context.Context) ([]*models.Parameter, error) {
	var parameters []*models.Parameter
	err := r.db.WithContext(ctx).Order("name ASC").Find(&parameters).Error
	return parameters, err
}

func (r *ParameterRepository) UpdateUnit(ctx context.Context, name, unit string) error {
	result := r.db.WithContext(ctx).Model(&models.Parameter{}).
		Where("name = ?", models.NormalizeName(name)).
		Update("unit", unit)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SweepUnused deletes parameters no reading refers to.
func (r *ParameterRepository) SweepUnused(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`DELETE FROM parameters WHERE NOT EXISTS (
			SELECT 1 FROM sensor_data WHERE sensor_data.parameter_id = parameters.id
		)`,
	)
	return result.RowsAffected, result.Error
}
