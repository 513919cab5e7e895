package rowstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quillwriter/syncengine/internal/resilience"
)

// SupabaseConfig configures a REST-backed RowStore, grounded on
// infrastructure/database/supabase_client.go's Client/Config shape.
type SupabaseConfig struct {
	URL        string
	ServiceKey string
	RestPrefix string // defaults to "/rest/v1"
	Timeout    time.Duration
}

// SupabaseStore implements RowStore against a Supabase-style PostgREST
// endpoint: upsert with `Prefer: resolution=merge-duplicates`, and
// select with `eq`/`is`/`gt` query filters.
type SupabaseStore struct {
	url        string
	serviceKey string
	restPrefix string
	httpClient *http.Client
}

// NewSupabaseStore constructs a SupabaseStore from cfg.
func NewSupabaseStore(cfg SupabaseConfig) *SupabaseStore {
	restPrefix := strings.TrimRight(cfg.RestPrefix, "/")
	if restPrefix == "" {
		restPrefix = "/rest/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SupabaseStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		restPrefix: restPrefix,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HTTPFailure adapts an HTTP outcome into a resilience.Failure for the
// Error Classifier, so callers (the Sync Manager) never have to reason
// about status codes directly.
type HTTPFailure struct {
	StatusCode int
	RetryAfter *time.Duration
	Err        error
}

func (f *HTTPFailure) Error() string { return f.Err.Error() }
func (f *HTTPFailure) Unwrap() error { return f.Err }

// Classify adapts an HTTPFailure into a resilience.Failure.
func (f *HTTPFailure) Classify() resilience.Failure {
	return resilience.Failure{
		StatusCode:    f.StatusCode,
		RetryAfter:    f.RetryAfter,
		NetworkError:  f.StatusCode == 0,
		OriginalError: f.Err,
	}
}

func (s *SupabaseStore) request(ctx context.Context, method, table string, body any, query string, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s%s/%s", s.url, s.restPrefix, table)
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &HTTPFailure{Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if readErr != nil {
		return nil, fmt.Errorf("read response: %w", readErr)
	}

	if resp.StatusCode >= 400 {
		var retryAfter *time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				d := time.Duration(secs) * time.Second
				retryAfter = &d
			}
		}
		return nil, &HTTPFailure{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("row store API error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	return respBody, nil
}

// Upsert implements RowStore, grounded on Client.Upsert: POST with
// `on_conflict` and `Prefer: resolution=merge-duplicates`.
func (s *SupabaseStore) Upsert(ctx context.Context, table string, row Row, onConflict string) error {
	query := ""
	prefer := "return=representation"
	if onConflict != "" {
		query = "on_conflict=" + onConflict
		prefer = "return=representation,resolution=merge-duplicates"
	}
	_, err := s.request(ctx, http.MethodPost, table, row, query, prefer)
	return err
}

// Select implements RowStore, grounded on Client.Select plus
// generic_repository.go's QueryBuilder filter syntax:
// `eq`/`is`/`gt` on project_id/deleted_at/updated_at.
func (s *SupabaseStore) Select(ctx context.Context, table string, opts SelectOptions) ([]Row, error) {
	qb := NewQueryBuilder().IsNull("deleted_at")
	if opts.ProjectID != "" {
		qb = qb.Eq("project_id", opts.ProjectID)
	}
	if opts.Since != nil {
		qb = qb.Gt("updated_at", *opts.Since)
	}

	body, err := s.request(ctx, http.MethodGet, table, nil, "select=*&"+qb.Build(), "")
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

// QueryBuilder builds PostgREST-style filter query strings, grounded on
// infrastructure/database/generic_repository.go's QueryBuilder.
type QueryBuilder struct {
	filters []string
}

// NewQueryBuilder constructs an empty QueryBuilder.
func NewQueryBuilder() *QueryBuilder { return &QueryBuilder{} }

// Eq adds a `column=eq.value` filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=eq.%v", column, value))
	return q
}

// IsNull adds a `column=is.null` filter.
func (q *QueryBuilder) IsNull(column string) *QueryBuilder {
	q.filters = append(q.filters, column+"=is.null")
	return q
}

// Gt adds a `column=gt.value` filter.
func (q *QueryBuilder) Gt(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=gt.%v", column, value))
	return q
}

// Build joins the accumulated filters into a query string fragment.
func (q *QueryBuilder) Build() string {
	return strings.Join(q.filters, "&")
}
