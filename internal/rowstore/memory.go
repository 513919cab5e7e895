package rowstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory RowStore fake, grounded on the mock
// repository pattern used throughout infrastructure/database's tests
// instead of a live Postgres instance. It also implements RealtimeSource
// by fanning out applied writes to subscribers, standing in for
// pkg/pgnotify's LISTEN/NOTIFY bus in cmd/syncdemo.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]map[string]Row // table -> id -> row

	subsMu sync.Mutex
	subs   map[string][]func(RealtimeEvent) // "projectID:table" -> handlers
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]map[string]Row),
		subs: make(map[string][]func(RealtimeEvent)),
	}
}

// Upsert implements RowStore.
func (m *MemoryStore) Upsert(_ context.Context, table string, row Row, _ string) error {
	m.mu.Lock()
	if m.rows[table] == nil {
		m.rows[table] = make(map[string]Row)
	}
	id, _ := row["id"].(string)
	var old Row
	if existing, ok := m.rows[table][id]; ok {
		old = existing
	}
	stored := make(Row, len(row))
	for k, v := range row {
		stored[k] = v
	}
	m.rows[table][id] = stored
	m.mu.Unlock()

	eventType := "INSERT"
	if old != nil {
		eventType = "UPDATE"
	}
	if dt, ok := row["deleted_at"]; ok && dt != nil {
		eventType = "DELETE"
	}
	m.publish(table, RealtimeEvent{Table: table, EventType: eventType, New: stored, Old: old})
	return nil
}

// Select implements RowStore.
func (m *MemoryStore) Select(_ context.Context, table string, opts SelectOptions) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Row, 0)
	for _, row := range m.rows[table] {
		if dt, ok := row["deleted_at"]; ok && dt != nil {
			continue
		}
		if opts.ProjectID != "" {
			if pid, _ := row["project_id"].(string); pid != opts.ProjectID {
				continue
			}
		}
		if opts.Since != nil {
			updatedAt, _ := row["updated_at"].(int64)
			if updatedAt <= *opts.Since {
				continue
			}
		}
		copyRow := make(Row, len(row))
		for k, v := range row {
			copyRow[k] = v
		}
		out = append(out, copyRow)
	}
	sort.Slice(out, func(i, j int) bool {
		idI, _ := out[i]["id"].(string)
		idJ, _ := out[j]["id"].(string)
		return idI < idJ
	})
	return out, nil
}

// Subscribe implements RealtimeSource.
func (m *MemoryStore) Subscribe(ctx context.Context, projectID, table string, handler func(RealtimeEvent)) (func(), error) {
	key := projectID + ":" + table
	m.subsMu.Lock()
	m.subs[key] = append(m.subs[key], handler)
	idx := len(m.subs[key]) - 1
	m.subsMu.Unlock()

	cancel := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		handlers := m.subs[key]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return cancel, nil
}

func (m *MemoryStore) publish(table string, evt RealtimeEvent) {
	projectID, _ := evt.New["project_id"].(string)
	if projectID == "" && evt.Old != nil {
		projectID, _ = evt.Old["project_id"].(string)
	}
	key := projectID + ":" + table
	m.subsMu.Lock()
	handlers := append([]func(RealtimeEvent){}, m.subs[key]...)
	m.subsMu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(evt)
		}
	}
}
