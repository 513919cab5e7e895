// Package encoder implements the Upsert Encoder (component I): translates
// a local Record into a remote row, applying E2EE when the owning
// project is enabled and unlocked (§4.I).
package encoder

import (
	"fmt"

	"github.com/quillwriter/syncengine/internal/cryptobox"
	"github.com/quillwriter/syncengine/internal/store"
	"github.com/quillwriter/syncengine/internal/syncerr"
)

// E2EEStatus is the subset of the Key Manager's state the encoder needs.
// It is a narrow interface so the encoder never depends on key-management
// internals beyond enabled/unlocked/DEK (§4.M: "the DEK is opaque to
// encoder/decoder code").
type E2EEStatus interface {
	IsEnabled(projectID string) bool
	IsUnlocked(projectID string) bool
	GetDEK(projectID string) ([]byte, error)
	CipherSuite() cryptobox.Cipher
}

// Encoder converts Records into remote rows.
type Encoder struct {
	keys E2EEStatus
}

// New constructs an Encoder backed by keys for E2EE decisions.
func New(keys E2EEStatus) *Encoder {
	return &Encoder{keys: keys}
}

// Result is one Encode outcome, used by EncodeBatch to report per-record
// failures without aborting the batch (§4.I: "records an error in the
// batch result").
type Result struct {
	Record store.Record
	Row    map[string]any
	Err    error
}

// OnConflictColumn returns the Row Store's upsert conflict key for table
// (§4.I: "id", or "project_id" for project_settings).
func OnConflictColumn(table store.Table) string {
	if table == store.TableProjectSettings {
		return "project_id"
	}
	return "id"
}

// encryptableFields lists which payload keys constitute "content" for a
// table — the fields E2EE actually protects. Only chapters has a
// documented shape (§4.I); other tables encrypt their whole payload.
var encryptableFields = map[store.Table][]string{
	store.TableChapters: {"title", "body", "summary", "notes"},
}

// Encode converts rec into a remote row. It never returns a partially
// applied result: either a complete row is produced, or an error is
// returned and the caller must not call the Row Store.
func (e *Encoder) Encode(rec store.Record) (map[string]any, error) {
	if rec.Table != store.TableProjects && rec.ProjectID == "" {
		return nil, fmt.Errorf("encode %s/%s: %w", rec.Table, rec.ID, syncerr.ErrMissingProjectID)
	}

	row := baseRow(rec)
	if rec.IsTombstone() {
		return row, nil
	}

	enabled := e.keys != nil && e.keys.IsEnabled(rec.ProjectID)
	unlocked := enabled && e.keys.IsUnlocked(rec.ProjectID)

	if !enabled || !unlocked {
		// Either E2EE is off, or the project is locked: compatibility
		// path, row is emitted as plaintext (§4.I steps 2-3).
		for k, v := range rec.Payload {
			row[k] = v
		}
		return row, nil
	}

	dek, err := e.keys.GetDEK(rec.ProjectID)
	if err != nil {
		// Key manager says unlocked but the DEK vanished underneath us:
		// treat as not-ready rather than fail the write.
		for k, v := range rec.Payload {
			row[k] = v
		}
		return row, nil
	}

	fields := encryptableFields[rec.Table]
	if len(fields) == 0 {
		fields = payloadKeys(rec.Payload)
	}
	content := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := rec.Payload[f]; ok {
			content[f] = v
		}
	}

	enc, err := cryptobox.EncryptJSON(e.keys.CipherSuite(), dek, string(rec.Table), rec.ID, rec.ProjectID, content)
	if err != nil {
		// §4.I step 4: encryptJSON failures are NOT swallowed — the
		// operation fails and is classified/retried normally upstream.
		return nil, fmt.Errorf("encode %s/%s: encrypt content: %w", rec.Table, rec.ID, err)
	}

	row["encrypted_content"] = enc
	row["title"] = "[Encrypted]"
	row["body"] = ""
	for k, v := range rec.Payload {
		if contains(fields, k) {
			continue
		}
		row[k] = v
	}
	return row, nil
}

// EncodeBatch encodes every record independently; a failure for one
// record does not prevent the others from succeeding (§4.I "Batching").
func (e *Encoder) EncodeBatch(recs []store.Record) []Result {
	results := make([]Result, 0, len(recs))
	for _, rec := range recs {
		row, err := e.Encode(rec)
		results = append(results, Result{Record: rec, Row: row, Err: err})
	}
	return results
}

func baseRow(rec store.Record) map[string]any {
	row := map[string]any{
		"id":         rec.ID,
		"updated_at": rec.UpdatedAt,
	}
	if rec.ProjectID != "" {
		row["project_id"] = rec.ProjectID
	}
	if rec.DeletedAt != nil {
		row["deleted_at"] = *rec.DeletedAt
	} else {
		row["deleted_at"] = nil
	}
	return row
}

func payloadKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	return keys
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
