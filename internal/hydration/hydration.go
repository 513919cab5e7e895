// Package hydration implements the Hydration Service (component J): pulls
// remote rows into the Local Store with Last-Writer-Wins merge (§4.J).
package hydration

import (
	"context"
	"fmt"

	"github.com/quillwriter/syncengine/internal/cryptobox"
	"github.com/quillwriter/syncengine/internal/logging"
	"github.com/quillwriter/syncengine/internal/rowstore"
	"github.com/quillwriter/syncengine/internal/store"
)

// Decryptor is the subset of the Key Manager hydration needs to recover
// encrypted row content.
type Decryptor interface {
	IsEnabled(projectID string) bool
	IsUnlocked(projectID string) bool
	GetDEK(projectID string) ([]byte, error)
	PreviousDEK(projectID string) ([]byte, bool)
	CipherSuite() cryptobox.Cipher
}

// TableResult reports per-table hydration outcome (§4.J: "partial
// hydration is reported with per-table counts").
type TableResult struct {
	Fetched int
	Applied int
	Skipped int
	Err     error
}

// Report is the result of a hydrateProject call.
type Report struct {
	PerTable map[store.Table]TableResult
}

// ProgressFunc is invoked once per table as hydration proceeds.
type ProgressFunc func(table store.Table, result TableResult)

// Options configures a single hydrateProject call.
type Options struct {
	ProjectID string
	Tables    []store.Table // nil means every known table
	Since     *int64
	OnProgress ProgressFunc
}

// Service is the Hydration Service.
type Service struct {
	rows  rowstore.RowStore
	local *store.Store
	keys  Decryptor
	log   *logging.Logger
}

// New constructs a Service.
func New(rows rowstore.RowStore, local *store.Store, keys Decryptor, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{rows: rows, local: local, keys: keys, log: log}
}

// HydrateProject pulls rows for opts.Tables (or every table) and merges
// them into the Local Store. The projects table is always processed first
// so child rows always find their parent locally (§3 invariant 4, §9).
func (s *Service) HydrateProject(ctx context.Context, opts Options) Report {
	tables := opts.Tables
	if len(tables) == 0 {
		tables = store.Tables
	}
	tables = orderWithProjectsFirst(tables)

	report := Report{PerTable: make(map[store.Table]TableResult, len(tables))}
	for _, table := range tables {
		result := s.hydrateTable(ctx, table, opts.ProjectID, opts.Since)
		report.PerTable[table] = result
		if opts.OnProgress != nil {
			opts.OnProgress(table, result)
		}
	}
	return report
}

func orderWithProjectsFirst(tables []store.Table) []store.Table {
	out := make([]store.Table, 0, len(tables))
	hasProjects := false
	for _, t := range tables {
		if t == store.TableProjects {
			hasProjects = true
			continue
		}
		out = append(out, t)
	}
	if hasProjects {
		out = append([]store.Table{store.TableProjects}, out...)
	}
	return out
}

// hydrateTable never aborts the whole hydration on a per-row failure
// (§4.J step, §7: "Hydration errors are recorded per-table and per-row;
// they never abort another row").
func (s *Service) hydrateTable(ctx context.Context, table store.Table, projectID string, since *int64) TableResult {
	selectOpts := rowstore.SelectOptions{Since: since}
	recordProjectID := projectID
	if table != store.TableProjects {
		selectOpts.ProjectID = projectID
	} else {
		// The projects table is keyed by id, not project_id (§3: a
		// project record has no owning project of its own).
		recordProjectID = ""
	}

	rows, err := s.rows.Select(ctx, string(table), selectOpts)
	if err != nil {
		return TableResult{Err: fmt.Errorf("select %s: %w", table, err)}
	}

	result := TableResult{Fetched: len(rows)}
	for _, row := range rows {
		if table == store.TableProjects {
			if id, _ := row["id"].(string); id != projectID {
				result.Skipped++
				continue
			}
		}
		rec, ok := s.decodeRow(table, recordProjectID, row)
		if !ok {
			result.Skipped++
			continue
		}
		if _, err := s.local.Put(rec); err != nil {
			s.log.WithError(err).WithFields(map[string]any{"table": table, "id": rec.ID}).
				Warn("hydration: put failed")
			result.Skipped++
			continue
		}
		result.Applied++
	}
	return result
}

func (s *Service) decodeRow(table store.Table, projectID string, row rowstore.Row) (store.Record, bool) {
	id, _ := row["id"].(string)
	updatedAt, _ := toInt64(row["updated_at"])
	rec := store.Record{ID: id, Table: table, ProjectID: projectID, UpdatedAt: updatedAt}

	if dt, ok := row["deleted_at"]; ok && dt != nil {
		at, _ := toInt64(dt)
		rec.DeletedAt = &at
		return rec, true
	}

	encRaw, hasEnc := row["encrypted_content"]
	if !hasEnc || encRaw == nil {
		rec.Payload = stripEnvelopeFields(row)
		return rec, true
	}

	if s.keys == nil || !s.keys.IsEnabled(projectID) || !s.keys.IsUnlocked(projectID) {
		// §4.J step 2: E2EE not ready — skip the row, record a warning,
		// continue with the rest of the table.
		s.log.WithFields(map[string]any{"table": table, "id": id}).
			Warn("hydration: skipping encrypted row, E2EE not ready")
		return store.Record{}, false
	}

	enc, ok := decodeEncryptedContent(encRaw)
	if !ok {
		s.log.WithFields(map[string]any{"table": table, "id": id}).
			Warn("hydration: malformed encrypted_content")
		return store.Record{}, false
	}

	var content map[string]any
	dek, err := s.keys.GetDEK(projectID)
	if err == nil {
		err = cryptobox.DecryptJSON(s.keys.CipherSuite(), dek, string(table), id, projectID, enc, &content)
	}
	if err != nil {
		if prev, ok := s.keys.PreviousDEK(projectID); ok {
			content = nil
			err = cryptobox.DecryptJSON(s.keys.CipherSuite(), prev, string(table), id, projectID, enc, &content)
		}
	}
	if err != nil {
		s.log.WithFields(map[string]any{"table": table, "id": id}).
			Warn("hydration: decrypt failed, skipping row")
		return store.Record{}, false
	}

	rec.Payload = content
	return rec, true
}

func stripEnvelopeFields(row rowstore.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch k {
		case "id", "project_id", "updated_at", "deleted_at", "encrypted_content":
			continue
		default:
			out[k] = v
		}
	}
	return out
}

func decodeEncryptedContent(raw any) (cryptobox.EncryptedContent, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return cryptobox.EncryptedContent{}, false
	}
	ciphertext, _ := m["ciphertext"].(string)
	nonce, _ := m["nonce"].(string)
	if ciphertext == "" || nonce == "" {
		return cryptobox.EncryptedContent{}, false
	}
	return cryptobox.EncryptedContent{Ciphertext: ciphertext, Nonce: nonce}, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// BootstrapResult is the outcome of BootstrapProject (§4.J).
type BootstrapResult string

const (
	BootstrapNone         BootstrapResult = "none"
	BootstrapHydrated     BootstrapResult = "hydrated"
	BootstrapLocalOnly    BootstrapResult = "local-only"
)

// BootstrapProject decides the initial source for opening projectID: if
// both local and remote copies exist, hydrate only when remote is newer;
// if only remote exists, hydrate; if only local exists, surface it
// (it propagates via the Outbox on next write); if neither, "none".
func (s *Service) BootstrapProject(ctx context.Context, projectID string) (BootstrapResult, error) {
	localRec, localErr := s.local.Get(store.TableProjects, projectID)
	hasLocal := localErr == nil

	remoteRows, err := s.rows.Select(ctx, string(store.TableProjects), rowstore.SelectOptions{})
	if err != nil {
		return "", fmt.Errorf("bootstrap %s: %w", projectID, err)
	}
	var remoteRow rowstore.Row
	for _, r := range remoteRows {
		if id, _ := r["id"].(string); id == projectID {
			remoteRow = r
			break
		}
	}
	hasRemote := remoteRow != nil

	switch {
	case !hasLocal && !hasRemote:
		return BootstrapNone, nil
	case hasLocal && !hasRemote:
		return BootstrapLocalOnly, nil
	case !hasLocal && hasRemote:
		s.HydrateProject(ctx, Options{ProjectID: projectID, Tables: []store.Table{store.TableProjects}})
		return BootstrapHydrated, nil
	default:
		remoteUpdatedAt, _ := toInt64(remoteRow["updated_at"])
		if remoteUpdatedAt > localRec.UpdatedAt {
			s.HydrateProject(ctx, Options{ProjectID: projectID, Tables: []store.Table{store.TableProjects}})
			return BootstrapHydrated, nil
		}
		return BootstrapLocalOnly, nil
	}
}
