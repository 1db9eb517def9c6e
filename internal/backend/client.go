package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	cerrors "github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/logging"
	"github.com/robosystems/graphplane/internal/metrics"
	"github.com/robosystems/graphplane/internal/resilience"
)

const maxErrorBodyBytes = 32 << 10

// RequestObserver receives the outcome of every backend HTTP call, win or
// lose. A routing pool's PoolStats satisfies this directly.
type RequestObserver interface {
	RecordRequest(err error)
}

// Client talks to a single worker instance over HTTP, with its own retry
// policy and circuit breaker — per spec.md §4.5, per-client breakers are
// independent of the factory's shared-master/ALB breakers.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
	obs     RequestObserver
	metrics *metrics.Metrics
	log     *logging.Logger
}

// New creates a Client, validating cfg eagerly before first use. obs and m
// may be nil, in which case their respective recording is skipped.
func New(cfg Config, obs RequestObserver, m *metrics.Metrics, log *logging.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := copyHTTPClientWithTimeout(cfg.HTTPClient, cfg.Timeout)
	if httpClient.Transport == nil {
		httpClient.Transport = &http.Transport{
			MaxConnsPerHost:     cfg.MaxConnections,
			MaxIdleConnsPerHost: cfg.MaxKeepaliveConnections,
			IdleConnTimeout:     cfg.KeepaliveExpiry,
		}
	}

	cbCfg := resilience.BackendCBConfig(log, m, cfg.BaseURL)
	cbCfg.MaxFailures = cfg.CircuitBreakerThreshold
	cbCfg.Timeout = cfg.CircuitBreakerTimeout

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		breaker: resilience.New(cbCfg),
		obs:     obs,
		metrics: m,
		log:     log,
	}, nil
}

// recordOutcome records a completed backend call's latency and result
// against both the Prometheus collectors and the routing pool observer,
// tolerating either being nil.
func (c *Client) recordOutcome(op string, started time.Time, err error) {
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordBackendRequest(op, status, time.Since(started))
	}
	if c.obs != nil {
		c.obs.RecordRequest(err)
	}
}

// Result is the unary query response shape from spec.md §4.3: an empty
// response body is normalized to zero-valued Data/Columns/RowCount rather
// than left nil.
type Result struct {
	Data     []map[string]interface{} `json:"data"`
	Columns  []string                 `json:"columns"`
	RowCount int                      `json:"row_count"`
}

// TaskHandle is the opaque reference to a long-running backend operation.
type TaskHandle struct {
	TaskID   string `json:"task_id"`
	SSEPath  string `json:"sse_path"`
	TaskType string `json:"task_type"`
}

func (c *Client) headers(extra map[string]string) http.Header {
	h := http.Header{}
	h.Set("X-Graph-API-Key", c.cfg.APIKey)
	for k, v := range c.cfg.Headers {
		h.Set(k, v)
	}
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}

// doJSON issues a single HTTP request (no retry, no breaker) and decodes a
// JSON response body into out, if out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return cerrors.Wrap(cerrors.CodeClient, err, "failed to marshal request body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return cerrors.Wrap(cerrors.CodeClient, err, "failed to build request")
	}
	req.Header = c.headers(nil)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		code := classifyTransportError(err)
		return cerrors.Wrap(code, err, "backend request failed: %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		limited := io.LimitReader(resp.Body, maxErrorBodyBytes)
		raw, _ := io.ReadAll(limited)
		code := classifyHTTPStatus(resp.StatusCode, string(raw))
		return &cerrors.ServiceError{
			Code:       code,
			Message:    fmt.Sprintf("backend returned %d for %s %s: %s", resp.StatusCode, method, path, strings.TrimSpace(string(raw))),
			HTTPStatus: resp.StatusCode,
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return cerrors.Wrap(cerrors.CodeTransient, err, "failed to read response body")
	}
	if len(raw) == 0 {
		// Normalize an empty body rather than failing JSON decode.
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return cerrors.Wrap(cerrors.CodeServer, err, "failed to decode response body")
	}
	return nil
}

// call runs doJSON under the circuit breaker and the configured retry
// policy, recording the outcome under op once it settles. Syntax errors and
// other non-retriable codes propagate immediately and never consume a retry
// attempt beyond the first.
func (c *Client) call(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	started := time.Now()
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  c.cfg.MaxRetries + 1,
		InitialDelay: c.cfg.RetryDelay,
		Multiplier:   c.cfg.RetryBackoff,
		Jitter:       0.1,
		MaxDelay:     30 * time.Second,
	}

	err := resilience.Retry(ctx, retryCfg, func() error {
		breakerErr := c.breaker.Execute(ctx, func() error {
			return c.doJSON(ctx, method, path, body, out)
		})
		if breakerErr != nil {
			if breakerErr == resilience.ErrCircuitOpen || breakerErr == resilience.ErrTooManyRequests {
				return cerrors.Wrap(cerrors.CodeTransient, breakerErr, "circuit breaker rejected call")
			}
			if !isRetryableCode(cerrors.CodeOf(breakerErr)) {
				return backoff.Permanent(breakerErr)
			}
			return breakerErr
		}
		return nil
	})
	if err != nil {
		var permErr *backoff.PermanentError
		if stderrors.As(err, &permErr) {
			c.recordOutcome(op, started, permErr.Err)
			return permErr.Err
		}
		c.recordOutcome(op, started, err)
		return err
	}
	c.recordOutcome(op, started, nil)
	return nil
}

// Health returns liveness/version info. No retries beyond transport
// defaults per spec.md §4.3; recorded directly since it bypasses call().
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	started := time.Now()
	var out map[string]interface{}
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	c.recordOutcome("health", started, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetInfo returns cluster-wide configuration and capabilities.
func (c *Client) GetInfo(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.call(ctx, "get_info", http.MethodGet, "/info", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDatabases returns the databases known to this worker instance.
func (c *Client) ListDatabases(ctx context.Context) ([]map[string]interface{}, error) {
	var out struct {
		Databases []map[string]interface{} `json:"databases"`
	}
	if err := c.call(ctx, "list_databases", http.MethodGet, "/databases", nil, &out); err != nil {
		return nil, err
	}
	return out.Databases, nil
}

// GetDatabase returns the database record for id.
func (c *Client) GetDatabase(ctx context.Context, id string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.call(ctx, "get_database", http.MethodGet, "/databases/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DatabaseExists reports whether id exists on this instance.
func (c *Client) DatabaseExists(ctx context.Context, id string) (bool, error) {
	_, err := c.GetDatabase(ctx, id)
	if err == nil {
		return true, nil
	}
	if cerrors.Is(err, cerrors.CodeClient) {
		return false, nil
	}
	return false, err
}

// CreateDatabaseRequest is the body of a database-creation call.
type CreateDatabaseRequest struct {
	GraphID         string `json:"graph_id"`
	SchemaType      string `json:"schema_type"`
	RepositoryName  string `json:"repository_name,omitempty"`
	CustomSchemaDDL string `json:"custom_schema_ddl,omitempty"`
	IsSubgraph      bool   `json:"is_subgraph,omitempty"`
}

// CreateDatabase is idempotent on "already exists": a Client conflict
// response is treated as success with exists=true rather than an error.
func (c *Client) CreateDatabase(ctx context.Context, req CreateDatabaseRequest) (exists bool, err error) {
	var out map[string]interface{}
	callErr := c.call(ctx, "create_database", http.MethodPost, "/databases", req, &out)
	if callErr == nil {
		return false, nil
	}
	if isAlreadyExists(callErr) {
		return true, nil
	}
	return false, callErr
}

// DeleteDatabase is idempotent on "already deleted".
func (c *Client) DeleteDatabase(ctx context.Context, id string) error {
	err := c.call(ctx, "delete_database", http.MethodDelete, "/databases/"+url.PathEscape(id), nil, nil)
	if err == nil {
		return nil
	}
	if cerrors.Is(err, cerrors.CodeClient) {
		var svcErr *cerrors.ServiceError
		if asServiceError(err, &svcErr) && svcErr.HTTPStatus == http.StatusNotFound {
			return nil
		}
	}
	return err
}

func isAlreadyExists(err error) bool {
	var svcErr *cerrors.ServiceError
	if !asServiceError(err, &svcErr) {
		return false
	}
	return svcErr.HTTPStatus == http.StatusConflict || strings.Contains(strings.ToLower(svcErr.Message), "already exists")
}

func asServiceError(err error, target **cerrors.ServiceError) bool {
	if svcErr, ok := err.(*cerrors.ServiceError); ok {
		*target = svcErr
		return true
	}
	return false
}

// InstallSchemaRequest is mutually exclusive between (BaseSchema,
// Extensions) and DDL.
type InstallSchemaRequest struct {
	Type       string   `json:"type"`
	BaseSchema string   `json:"base_schema,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	DDL        string   `json:"ddl,omitempty"`
}

// InstallSchema installs either a named base schema plus extensions, or a
// raw DDL payload.
func (c *Client) InstallSchema(ctx context.Context, id string, req InstallSchemaRequest) error {
	return c.call(ctx, "install_schema", http.MethodPost, "/databases/"+url.PathEscape(id)+"/schema", req, nil)
}

// GetSchema returns the list of declared tables.
func (c *Client) GetSchema(ctx context.Context, id string) ([]string, error) {
	var out struct {
		Tables []string `json:"tables"`
	}
	if err := c.call(ctx, "get_schema", http.MethodGet, "/databases/"+url.PathEscape(id)+"/schema", nil, &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

// queryRequest is the body of a unary or streaming query call.
type queryRequest struct {
	Cypher     string                 `json:"cypher"`
	Database   string                 `json:"database"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Query executes cypher against id and returns a normalized Result: an
// empty response body yields empty Data and Columns. A query that fails to
// parse on the backend is returned as a CodeSyntax error without retry;
// transport and other HTTP failures are returned through the same error
// taxonomy.
func (c *Client) Query(ctx context.Context, id, cypher string, params map[string]interface{}) (Result, error) {
	body := queryRequest{Cypher: cypher, Database: id, Parameters: params}
	var out Result
	path := "/databases/" + url.PathEscape(id) + "/query?streaming=false"
	if err := c.call(ctx, "query", http.MethodPost, path, body, &out); err != nil {
		return Result{}, err
	}
	if out.Data == nil {
		out.Data = []map[string]interface{}{}
	}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	return out, nil
}

// QueryStream executes cypher against id in streaming mode and returns a
// channel of NDJSON-decoded row maps, closed when the stream ends. A
// stream-level HTTP error is raised through errCh before any rows are
// delivered.
func (c *Client) QueryStream(ctx context.Context, id, cypher string, params map[string]interface{}) (<-chan map[string]interface{}, <-chan error) {
	rows := make(chan map[string]interface{})
	errCh := make(chan error, 1)

	go func() {
		started := time.Now()
		var streamErr error
		defer close(rows)
		defer func() {
			c.recordOutcome("query_stream", started, streamErr)
			close(errCh)
		}()

		body := queryRequest{Cypher: cypher, Database: id, Parameters: params}
		raw, err := json.Marshal(body)
		if err != nil {
			streamErr = cerrors.Wrap(cerrors.CodeClient, err, "failed to marshal streaming query")
			errCh <- streamErr
			return
		}

		path := "/databases/" + url.PathEscape(id) + "/query?streaming=true"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
		if err != nil {
			streamErr = cerrors.Wrap(cerrors.CodeClient, err, "failed to build streaming query request")
			errCh <- streamErr
			return
		}
		req.Header = c.headers(map[string]string{"Content-Type": "application/json"})

		resp, err := c.http.Do(req)
		if err != nil {
			streamErr = cerrors.Wrap(classifyTransportError(err), err, "streaming query request failed")
			errCh <- streamErr
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			limited := io.LimitReader(resp.Body, maxErrorBodyBytes)
			bodyRaw, _ := io.ReadAll(limited)
			streamErr = &cerrors.ServiceError{
				Code:       classifyHTTPStatus(resp.StatusCode, string(bodyRaw)),
				Message:    fmt.Sprintf("streaming query returned %d", resp.StatusCode),
				HTTPStatus: resp.StatusCode,
			}
			errCh <- streamErr
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var row map[string]interface{}
			if err := json.Unmarshal(line, &row); err != nil {
				continue
			}
			select {
			case rows <- row:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			streamErr = cerrors.Wrap(cerrors.CodeTransient, err, "streaming query read failed")
			errCh <- streamErr
		}
	}()

	return rows, errCh
}

// ExecuteDDL is a convenience wrapper over Query for DDL statements.
func (c *Client) ExecuteDDL(ctx context.Context, id, ddl string) (Result, error) {
	return c.Query(ctx, id, ddl, nil)
}

// NodeExists generates an internal COUNT query for label filtered by
// filters and reports whether any matching node exists.
func (c *Client) NodeExists(ctx context.Context, id, label string, filters map[string]interface{}) (bool, error) {
	var clauses []string
	params := make(map[string]interface{})
	i := 0
	for k, v := range filters {
		param := fmt.Sprintf("p%d", i)
		clauses = append(clauses, fmt.Sprintf("n.%s = $%s", k, param))
		params[param] = v
		i++
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN count(n) AS count", label, where)

	result, err := c.Query(ctx, id, cypher, params)
	if err != nil {
		return false, err
	}
	if len(result.Data) == 0 {
		return false, nil
	}
	count, _ := result.Data[0]["count"].(float64)
	return count > 0, nil
}

// IngestMode distinguishes the sync and async ingestion paths.
type IngestMode string

const (
	IngestSync  IngestMode = "sync"
	IngestAsync IngestMode = "async"
)

// IngestRequest covers both ingestion modes; FilePath/TableName apply to
// sync, PipelineRunID/Bucket/Files to async.
type IngestRequest struct {
	Mode          IngestMode `json:"mode"`
	FilePath      string     `json:"file_path,omitempty"`
	TableName     string     `json:"table_name,omitempty"`
	PipelineRunID string     `json:"pipeline_run_id,omitempty"`
	Bucket        string     `json:"bucket,omitempty"`
	Files         []string   `json:"files,omitempty"`
	IgnoreErrors  bool       `json:"ignore_errors,omitempty"`
}

// Ingest starts an ingestion and returns its task handle. Sync ingestion
// uses a timeout 30x the client's base timeout; async uses the base
// timeout, since async ingestion only needs to wait for the start
// acknowledgement.
func (c *Client) Ingest(ctx context.Context, id string, req IngestRequest) (TaskHandle, error) {
	timeout := c.cfg.Timeout
	if req.Mode == IngestSync {
		timeout = c.cfg.Timeout * 30
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out TaskHandle
	if err := c.call(ctx, "ingest", http.MethodPost, "/databases/"+url.PathEscape(id)+"/ingest", req, &out); err != nil {
		return TaskHandle{}, err
	}
	out.TaskType = "ingestion"
	return out, nil
}

// ListTasks lists tasks, optionally filtered by status, up to limit.
func (c *Client) ListTasks(ctx context.Context, status string, limit int) ([]map[string]interface{}, error) {
	path := fmt.Sprintf("/tasks?limit=%d", limit)
	if status != "" {
		path += "&status=" + url.QueryEscape(status)
	}
	var out struct {
		Tasks []map[string]interface{} `json:"tasks"`
	}
	if err := c.call(ctx, "list_tasks", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTaskStatus returns the current status of taskID.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.call(ctx, "get_task_status", http.MethodGet, "/tasks/"+url.PathEscape(taskID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelTask cancels taskID.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.call(ctx, "cancel_task", http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, nil)
}

// GetQueueInfo returns the worker's async task queue statistics.
func (c *Client) GetQueueInfo(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.call(ctx, "get_queue_info", http.MethodGet, "/tasks/queue/info", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateBackupRequest describes a backup request.
type CreateBackupRequest struct {
	Format      string `json:"format"`
	Compression string `json:"compression,omitempty"`
	Encryption  bool   `json:"encryption,omitempty"`
}

// CreateBackup starts a backup and returns its task handle.
func (c *Client) CreateBackup(ctx context.Context, id string, req CreateBackupRequest) (TaskHandle, error) {
	var out TaskHandle
	if err := c.call(ctx, "create_backup", http.MethodPost, "/databases/"+url.PathEscape(id)+"/backup", req, &out); err != nil {
		return TaskHandle{}, err
	}
	out.TaskType = "backup"
	return out, nil
}

// DownloadBackup returns the raw bytes of a completed backup.
func (c *Client) DownloadBackup(ctx context.Context, id, backupID string) (data []byte, err error) {
	started := time.Now()
	defer func() { c.recordOutcome("download_backup", started, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/databases/"+url.PathEscape(id)+"/backup/"+url.PathEscape(backupID), nil)
	if err != nil {
		err = cerrors.Wrap(cerrors.CodeClient, err, "failed to build backup download request")
		return nil, err
	}
	req.Header = c.headers(nil)

	resp, doErr := c.http.Do(req)
	if doErr != nil {
		err = cerrors.Wrap(classifyTransportError(doErr), doErr, "backup download failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		limited := io.LimitReader(resp.Body, maxErrorBodyBytes)
		raw, _ := io.ReadAll(limited)
		err = &cerrors.ServiceError{Code: classifyHTTPStatus(resp.StatusCode, string(raw)), Message: "backup download failed", HTTPStatus: resp.StatusCode}
		return nil, err
	}
	data, err = io.ReadAll(resp.Body)
	return data, err
}

// RestoreBackupRequest describes a restore-from-object-storage request.
// Restore-from-bytes is unimplemented, per the original source's
// treatment of it as out of scope until backup data is first uploaded to
// object storage.
type RestoreBackupRequest struct {
	S3Bucket string `json:"s3_bucket"`
	S3Key    string `json:"s3_key"`
}

// RestoreBackup starts a restore and returns its task handle.
func (c *Client) RestoreBackup(ctx context.Context, id string, req RestoreBackupRequest) (TaskHandle, error) {
	var out TaskHandle
	if err := c.call(ctx, "restore_backup", http.MethodPost, "/databases/"+url.PathEscape(id)+"/restore", req, &out); err != nil {
		return TaskHandle{}, err
	}
	out.TaskType = "restore"
	return out, nil
}

// CreateTableRequest describes a columnar staging table creation.
type CreateTableRequest struct {
	Name      string `json:"name"`
	S3Pattern string `json:"s3_pattern"`
}

// CreateTable creates a staging table backed by object storage.
func (c *Client) CreateTable(ctx context.Context, id string, req CreateTableRequest) error {
	return c.call(ctx, "create_table", http.MethodPost, "/databases/"+url.PathEscape(id)+"/tables", req, nil)
}

// ListTables lists the staging tables registered on id.
func (c *Client) ListTables(ctx context.Context, id string) ([]string, error) {
	var out struct {
		Tables []string `json:"tables"`
	}
	if err := c.call(ctx, "list_tables", http.MethodGet, "/databases/"+url.PathEscape(id)+"/tables", nil, &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

// QueryTable runs a SQL query against a staging table.
func (c *Client) QueryTable(ctx context.Context, id, sql string, params map[string]interface{}) (Result, error) {
	body := map[string]interface{}{"sql": sql, "parameters": params}
	var out Result
	if err := c.call(ctx, "query_table", http.MethodPost, "/databases/"+url.PathEscape(id)+"/tables/query", body, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}

// DeleteTable removes a staging table.
func (c *Client) DeleteTable(ctx context.Context, id, name string) error {
	return c.call(ctx, "delete_table", http.MethodDelete, "/databases/"+url.PathEscape(id)+"/tables/"+url.PathEscape(name), nil, nil)
}

// IngestTableToGraph loads a staging table's rows into the graph itself.
func (c *Client) IngestTableToGraph(ctx context.Context, id, name string, ignoreErrors bool) (TaskHandle, error) {
	body := map[string]interface{}{"ignore_errors": ignoreErrors}
	var out TaskHandle
	if err := c.call(ctx, "ingest_table_to_graph", http.MethodPost, "/databases/"+url.PathEscape(id)+"/tables/"+url.PathEscape(name)+"/ingest", body, &out); err != nil {
		return TaskHandle{}, err
	}
	out.TaskType = "ingestion"
	return out, nil
}

// ForkFromParentRequest instructs the worker to copy selected staging
// tables from a parent into a subgraph's target, in-place on the same
// instance.
type ForkFromParentRequest struct {
	SubgraphID      string   `json:"subgraph_id"`
	Tables          []string `json:"tables,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	IgnoreErrors    bool     `json:"ignore_errors,omitempty"`
}

// ForkResult is the synchronous result of a fork-from-parent call.
type ForkResult struct {
	Status       string `json:"status"`
	TablesCopied int    `json:"tables_copied"`
	TotalRows    int    `json:"total_rows"`
}

// ForkFromParent copies selected tables from parentID's staging store into
// the subgraph named in req.
func (c *Client) ForkFromParent(ctx context.Context, parentID string, req ForkFromParentRequest) (ForkResult, error) {
	var out ForkResult
	if err := c.call(ctx, "fork_from_parent", http.MethodPost, "/databases/"+url.PathEscape(parentID)+"/fork", req, &out); err != nil {
		return ForkResult{}, err
	}
	return out, nil
}

// BreakerState exposes the client's circuit breaker state for metrics.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}
