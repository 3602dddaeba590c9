package listeners

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// notifyFunction publishes every row change on the table_events channel.
// Large text columns are stripped so the payload stays under the
// pg_notify size limit.
const notifyFunction = `
CREATE OR REPLACE FUNCTION notify_table_change() RETURNS trigger AS $$
DECLARE
	notification json;
	old_data jsonb := NULL;
	new_data jsonb := NULL;
BEGIN
	IF TG_OP = 'DELETE' THEN
		old_data = to_jsonb(OLD) - 'image';
	ELSIF TG_OP = 'INSERT' THEN
		new_data = to_jsonb(NEW) - 'image';
	ELSIF TG_OP = 'UPDATE' THEN
		old_data = to_jsonb(OLD) - 'image';
		new_data = to_jsonb(NEW) - 'image';
	END IF;

	notification = json_build_object(
		'operation', TG_OP,
		'table', TG_TABLE_NAME,
		'old_data', old_data,
		'new_data', new_data,
		'timestamp', now()
	);

	PERFORM pg_notify('` + DefaultChannel + `', notification::text);

	IF TG_OP = 'DELETE' THEN
		RETURN OLD;
	ELSE
		RETURN NEW;
	END IF;
END;
$$ LANGUAGE plpgsql;`

type ListenerManager struct {
	db        *gorm.DB
	listener  *pq.Listener
	logger    zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	listeners map[string][]TableListener
	channels  map[string]bool
	wg        sync.WaitGroup
}

func NewListenerManager(db *gorm.DB, dsn string, logger zerolog.Logger) *ListenerManager {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "listener-manager").Logger()

	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error().Err(err).Msg("PostgreSQL listener error")
		}
	}

	return &ListenerManager{
		db:        db,
		listener:  pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string][]TableListener),
		channels:  make(map[string]bool),
	}
}

func (lm *ListenerManager) RegisterListener(listener TableListener) error {
	tableName := listener.GetTableName()
	channelName := listener.GetChannelName()

	lm.listeners[tableName] = append(lm.listeners[tableName], listener)

	if !lm.channels[channelName] {
		if lm.listener != nil {
			if err := lm.listener.Listen(channelName); err != nil {
				return fmt.Errorf("failed to listen on channel %s: %w", channelName, err)
			}
		}
		lm.channels[channelName] = true
	}

	lm.logger.Info().
		Str("table", tableName).
		Str("channel", channelName).
		Msg("Registered table listener")

	return nil
}

// Initialize installs the notify function and one trigger per registered table.
func (lm *ListenerManager) Initialize() error {
	if err := lm.db.Exec(notifyFunction).Error; err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	for tableName := range lm.listeners {
		if err := lm.createTriggerForTable(tableName); err != nil {
			return fmt.Errorf("failed to create trigger for table %s: %w", tableName, err)
		}
	}

	lm.logger.Info().Msg("Listener manager initialized")
	return nil
}

func (lm *ListenerManager) createTriggerForTable(tableName string) error {
	triggerSQL := fmt.Sprintf(`
	DROP TRIGGER IF EXISTS %s_change_trigger ON %s;
	CREATE TRIGGER %s_change_trigger
		AFTER INSERT OR UPDATE OR DELETE ON %s
		FOR EACH ROW EXECUTE FUNCTION notify_table_change();`,
		tableName, tableName, tableName, tableName)

	return lm.db.Exec(triggerSQL).Error
}

func (lm *ListenerManager) listenForChanges() {
	defer lm.wg.Done()

	for {
		select {
		case notification := <-lm.listener.Notify:
			// A nil notification means the connection was re-established and
			// events may have been missed.
			if notification == nil {
				lm.logger.Warn().Msg("PostgreSQL listener reconnected")
				continue
			}
			lm.handleNotification(notification.Extra)
		case <-time.After(90 * time.Second):
			if err := lm.listener.Ping(); err != nil {
				lm.logger.Error().Err(err).Msg("PostgreSQL listener ping failed")
			}
		case <-lm.ctx.Done():
			lm.logger.Info().Msg("Table listener manager stopping...")
			return
		}
	}
}

func (lm *ListenerManager) handleNotification(payload string) {
	var event TableChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		lm.logger.Error().Err(err).
			Str("payload", payload).
			Msg("Failed to parse notification")
		return
	}

	tableListeners, exists := lm.listeners[event.Table]
	if !exists {
		lm.logger.Debug().
			Str("table", event.Table).
			Msg("No listeners registered for table")
		return
	}

	for _, listener := range tableListeners {
		lm.wg.Add(1)
		go func(l TableListener) {
			defer lm.wg.Done()

			ctx, cancel := context.WithTimeout(lm.ctx, 30*time.Second)
			defer cancel()

			if err := l.HandleChange(ctx, &event); err != nil {
				lm.logger.Error().Err(err).
					Str("table", event.Table).
					Str("listener", fmt.Sprintf("%T", l)).
					Msg("Error handling table change")
			}
		}(listener)
	}
}

func (lm *ListenerManager) Start() {
	lm.wg.Add(1)
	go lm.listenForChanges()
}

func (lm *ListenerManager) Stop() {
	if lm == nil {
		return
	}
	lm.cancel()
	lm.wg.Wait()
	if lm.listener != nil {
		_ = lm.listener.Close()
	}
	lm.logger.Info().Msg("Table listener manager stopped")
}
