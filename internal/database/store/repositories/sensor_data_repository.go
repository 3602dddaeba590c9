package repositories

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"tidewatch/internal/models"
)

type HealthFilter int

const (
	// HealthExclude drops battery, rssi and snr. It is the data view.
	HealthExclude HealthFilter = iota
	HealthOnly
	HealthAny
)

const observationColumns = "sensor_data.id AS id, sensor_data.timestamp AS timestamp, " +
	"parameters.name AS parameter, parameters.unit AS unit, sensor_data.value AS value"

type observationRow struct {
	ID        uint
	Timestamp time.Time
	Parameter string
	Unit      string
	Value     float64
}

func (o observationRow) toObservation() models.Observation {
	return models.Observation{
		Timestamp: o.Timestamp.UTC(),
		Parameter: o.Parameter,
		Unit:      o.Unit,
		Value:     o.Value,
	}
}

type SensorDataRepository struct {
	db *gorm.DB
}

func NewSensorDataRepository(db *gorm.DB) *SensorDataRepository {
	return &SensorDataRepository{db: db}
}

func (r *SensorDataRepository) WithTx(tx *gorm.DB) *SensorDataRepository {
	return &SensorDataRepository{db: tx}
}

func (r *SensorDataRepository) Create(ctx context.Context, row *models.SensorData) error {
	row.Timestamp = row.Timestamp.UTC()
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *SensorDataRepository) observations(ctx context.Context, sensorID uint) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("sensor_data").
		Select(observationColumns).
		Joins("JOIN parameters ON parameters.id = sensor_data.parameter_id").
		Where("sensor_data.sensor_id = ?", sensorID)
}

func applyHealthFilter(query *gorm.DB, filter HealthFilter) *gorm.DB {
	switch filter {
	case HealthExclude:
		return query.Where("parameters.name NOT IN ?", models.HealthParamNames())
	case HealthOnly:
		return query.Where("parameters.name IN ?", models.HealthParamNames())
	default:
		return query
	}
}

// Range returns readings with start <= timestamp <= end in time order.
func (r *SensorDataRepository) Range(ctx context.Context, sensorID uint, start, end time.Time, filter HealthFilter) ([]models.Observation, error) {
	var rows []observationRow
	err := applyHealthFilter(r.observations(ctx, sensorID), filter).
		Where("sensor_data.timestamp >= ? AND sensor_data.timestamp <= ?", start.UTC(), end.UTC()).
		Order("sensor_data.timestamp ASC, sensor_data.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.Observation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toObservation())
	}
	return out, nil
}

// MostRecent returns the latest reading of every parameter the sensor has
// reported, in one query. Ties on the timestamp go to the last inserted row.
func (r *SensorDataRepository) MostRecent(ctx context.Context, sensorID uint) ([]models.Observation, error) {
	latest := r.db.Table("sensor_data").
		Select("parameter_id, MAX(timestamp) AS max_ts").
		Where("sensor_id = ?", sensorID).
		Group("parameter_id")

	var rows []observationRow
	err := r.observations(ctx, sensorID).
		Joins("JOIN (?) AS latest ON latest.parameter_id = sensor_data.parameter_id AND latest.max_ts = sensor_data.timestamp", latest).
		Order("parameters.name ASC, sensor_data.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.Observation, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.Parameter]; ok {
			continue
		}
		seen[row.Parameter] = struct{}{}
		out = append(out, row.toObservation())
	}
	return out, nil
}

func (r *SensorDataRepository) DistinctParameters(ctx context.Context, sensorID uint) ([]models.Parameter, error) {
	used := r.db.Model(&models.SensorData{}).
		Select("DISTINCT parameter_id").
		Where("sensor_id = ?", sensorID)

	var parameters []models.Parameter
	err := r.db.WithContext(ctx).
		Where("id IN (?)", used).
		Order("name ASC").
		Find(&parameters).Error
	return parameters, err
}

// Track pairs latitude and longitude readings that share a timestamp.
func (r *SensorDataRepository) Track(ctx context.Context, sensorID uint, start, end time.Time) ([]models.TrackPoint, error) {
	var rows []observationRow
	err := r.observations(ctx, sensorID).
		Where("parameters.name IN ?", []string{models.ParamLatitude, models.ParamLongitude}).
		Where("sensor_data.timestamp >= ? AND sensor_data.timestamp <= ?", start.UTC(), end.UTC()).
		Order("sensor_data.timestamp ASC, sensor_data.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	type fix struct {
		lat, lon       float64
		hasLat, hasLon bool
	}
	fixes := make(map[int64]*fix)
	var order []int64
	for _, row := range rows {
		key := row.Timestamp.UnixNano()
		f, ok := fixes[key]
		if !ok {
			f = &fix{}
			fixes[key] = f
			order = append(order, key)
		}
		switch row.Parameter {
		case models.ParamLatitude:
			f.lat, f.hasLat = row.Value, true
		case models.ParamLongitude:
			f.lon, f.hasLon = row.Value, true
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	points := make([]models.TrackPoint, 0, len(order))
	for _, key := range order {
		f := fixes[key]
		if !f.hasLat || !f.hasLon {
			continue
		}
		points = append(points, models.TrackPoint{
			Timestamp: time.Unix(0, key).UTC(),
			Latitude:  f.lat,
			Longitude: f.lon,
		})
	}
	return points, nil
}
