package listeners

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tidewatch/internal/database/store"
	"tidewatch/internal/models"
)

type emitted struct {
	event string
	data  interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(event string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event: event, data: data})
	return nil
}

func (r *recordingEmitter) snapshot() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func newTestManager(db *gorm.DB) *ListenerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ListenerManager{
		db:        db,
		logger:    zerolog.Nop(),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string][]TableListener),
		channels:  make(map[string]bool),
	}
}

func TestSensorTableListener(t *testing.T) {
	emitter := &recordingEmitter{}
	listener := NewSensorTableListener(emitter, zerolog.Nop())
	assert.Equal(t, "sensors", listener.GetTableName())
	assert.Equal(t, DefaultChannel, listener.GetChannelName())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, listener.HandleChange(context.Background(), &TableChangeEvent{
		Operation: UpdateOperation,
		Table:     "sensors",
		OldData:   map[string]interface{}{"name": "buoy-1", "active": true},
		NewData:   map[string]interface{}{"name": "buoy-1", "active": false},
		Timestamp: at,
	}))
	require.NoError(t, listener.HandleChange(context.Background(), &TableChangeEvent{
		Operation: DeleteOperation,
		Table:     "sensors",
		OldData:   map[string]interface{}{"name": "buoy-2", "active": true},
		Timestamp: at,
	}))

	events := emitter.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventSensorRegistryUpdate, events[0].event)

	first := events[0].data.(*models.SensorRegistryEvent)
	assert.Equal(t, "update", first.Operation)
	assert.Equal(t, "buoy-1", first.Sensor)
	require.NotNil(t, first.Active)
	assert.False(t, *first.Active)

	second := events[1].data.(*models.SensorRegistryEvent)
	assert.Equal(t, "delete", second.Operation)
	assert.Equal(t, "buoy-2", second.Sensor)
	assert.Nil(t, second.Active)

	assert.Error(t, listener.HandleChange(context.Background(), &TableChangeEvent{Operation: "TRUNCATE", Table: "sensors"}))
	assert.Error(t, listener.HandleChange(context.Background(), &TableChangeEvent{Operation: InsertOperation, Table: "sensors"}))
}

func TestHandleNotificationDispatchesByTable(t *testing.T) {
	emitter := &recordingEmitter{}
	lm := newTestManager(nil)
	require.NoError(t, lm.RegisterListener(NewSensorTableListener(emitter, zerolog.Nop())))

	lm.handleNotification(`{"operation":"INSERT","table":"sensors","new_data":{"name":"gauge-7","active":true},"timestamp":"2024-05-01T12:00:00Z"}`)
	lm.handleNotification(`{"operation":"INSERT","table":"parameters","new_data":{"name":"ph"},"timestamp":"2024-05-01T12:00:00Z"}`)
	lm.handleNotification(`not json`)

	lm.Stop()

	events := emitter.snapshot()
	require.Len(t, events, 1)
	got := events[0].data.(*models.SensorRegistryEvent)
	assert.Equal(t, "insert", got.Operation)
	assert.Equal(t, "gauge-7", got.Sensor)
	assert.True(t, got.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestInitializeInstallsTriggers(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), store.NewGormConfig())
	require.NoError(t, err)

	lm := newTestManager(db)
	require.NoError(t, lm.RegisterListener(NewSensorTableListener(&recordingEmitter{}, zerolog.Nop())))

	mock.ExpectExec("CREATE OR REPLACE FUNCTION notify_table_change").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TRIGGER IF EXISTS sensors_change_trigger ON sensors").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, lm.Initialize())
	assert.NoError(t, mock.ExpectationsWereMet())
}
