package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tidewatch/internal/models"
)

type SensorRepository struct {
	db *gorm.DB
}

func NewSensorRepository(db *gorm.DB) *SensorRepository {
	return &SensorRepository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *SensorRepository) WithTx(tx *gorm.DB) *SensorRepository {
	return &SensorRepository{db: tx}
}

func (r *SensorRepository) FindByName(ctx context.Context, name string) (*models.Sensor, error) {
	var sensor models.Sensor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&sensor).Error
	if err != nil {
		return nil, err
	}
	return &sensor, nil
}

func (r *SensorRepository) FindAll(ctx context.Context, activeOnly bool) ([]*models.Sensor, error) {
	var sensors []*models.Sensor
	query := r.db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	err := query.Find(&sensors).Error
	return sensors, err
}

func (r *SensorRepository) Create(ctx context.Context, sensor *models.Sensor) error {
	return r.db.WithContext(ctx).Create(sensor).Error
}

func (r *SensorRepository) Update(ctx context.Context, sensor *models.Sensor, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(sensor).Updates(fields).Error
}

func (r *SensorRepository) UpdateLocation(ctx context.Context, sensorID uint, latitude, longitude float64) error {
	return r.db.WithContext(ctx).Model(&models.Sensor{}).
		Where("id = ?", sensorID).
		Updates(map[string]interface{}{
			"latitude":  latitude,
			"longitude": longitude,
		}).Error
}

func (r *SensorRepository) SetActive(ctx context.Context, name string, active bool) error {
	result := r.db.WithContext(ctx).Model(&models.Sensor{}).
		Where("name = ?", name).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes the sensor and every reading it produced. It returns the
// number of readings removed.
func (r *SensorRepository) Delete(ctx context.Context, name string) (int64, error) {
	var removed int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sensor models.Sensor
		if err := tx.Where("name = ?", name).First(&sensor).Error; err != nil {
			return err
		}

		result := tx.Where("sensor_id = ?", sensor.ID).Delete(&models.SensorData{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete readings: %w", result.Error)
		}
		removed = result.RowsAffected

		return tx.Delete(&sensor).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to delete sensor %s: %w", name, err)
	}

	return removed, nil
}
