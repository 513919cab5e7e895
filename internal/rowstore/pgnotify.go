package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// PostgresRealtimeSource implements RealtimeSource over LISTEN/NOTIFY,
// grounded on pkg/pgnotify/bus.go's table-change channel pattern: one
// `realtime:<table>` channel per table, carrying a JSON-encoded
// {eventType, new, old} payload produced by an AFTER INSERT OR UPDATE OR
// DELETE trigger, filtered client-side to the subscribing project_id
// since Postgres NOTIFY has no server-side payload filter.
type PostgresRealtimeSource struct {
	listener *pq.Listener

	mu   sync.Mutex
	subs map[string][]realtimeSub // channel -> subscribers

	onStatus func(connected bool)
}

type realtimeSub struct {
	id        int
	projectID string
	handler   func(RealtimeEvent)
}

// NewPostgresRealtimeSource dials dsn with a pq.Listener. onStatus, if
// non-nil, is invoked on every reconnect-event-type transition so a
// Realtime Router can track connected/disconnected status (§4.K).
func NewPostgresRealtimeSource(dsn string, onStatus func(connected bool)) (*PostgresRealtimeSource, error) {
	src := &PostgresRealtimeSource{
		subs:     make(map[string][]realtimeSub),
		onStatus: onStatus,
	}

	reportProblem := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected, pq.ListenerEventReconnected:
			if src.onStatus != nil {
				src.onStatus(true)
			}
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			if src.onStatus != nil {
				src.onStatus(false)
			}
		}
	}

	src.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	go src.loop()
	return src, nil
}

func channelForTable(table string) string {
	return "realtime:" + table
}

// Subscribe implements RealtimeSource.
func (p *PostgresRealtimeSource) Subscribe(ctx context.Context, projectID, table string, handler func(RealtimeEvent)) (func(), error) {
	channel := channelForTable(table)

	p.mu.Lock()
	if len(p.subs[channel]) == 0 {
		if err := p.listener.Listen(channel); err != nil && err != pq.ErrChannelAlreadyOpen {
			p.mu.Unlock()
			return nil, fmt.Errorf("pgnotify: listen %s: %w", channel, err)
		}
	}
	id := len(p.subs[channel])
	p.subs[channel] = append(p.subs[channel], realtimeSub{id: id, projectID: projectID, handler: handler})
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs := p.subs[channel]
		for i := range subs {
			if subs[i].id == id {
				subs[i].handler = nil
			}
		}
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

func (p *PostgresRealtimeSource) loop() {
	for notification := range p.listener.Notify {
		if notification == nil {
			continue
		}
		var change struct {
			Type string         `json:"eventType"`
			Old  map[string]any `json:"old"`
			New  map[string]any `json:"new"`
		}
		if err := json.Unmarshal([]byte(notification.Extra), &change); err != nil {
			continue
		}

		p.mu.Lock()
		subs := append([]realtimeSub{}, p.subs[notification.Channel]...)
		p.mu.Unlock()

		evt := RealtimeEvent{EventType: change.Type, New: change.New, Old: change.Old}
		projectID, _ := evt.New["project_id"].(string)
		if projectID == "" && evt.Old != nil {
			projectID, _ = evt.Old["project_id"].(string)
		}
		for _, s := range subs {
			if s.handler != nil && s.projectID == projectID {
				s.handler(evt)
			}
		}
	}
}

// Close stops the listener.
func (p *PostgresRealtimeSource) Close() error {
	return p.listener.Close()
}

// OpenRealtimeListenerDB is a convenience constructor mirroring
// pkg/pgnotify.New, opening its own *sql.DB solely to create the
// triggers/channels the router will LISTEN on (the listener connection
// itself is managed separately by pq.Listener).
func OpenRealtimeListenerDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgnotify: ping: %w", err)
	}
	return db, nil
}
