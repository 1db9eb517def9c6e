package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	cerrors "github.com/robosystems/graphplane/internal/errors"
)

// TaskEvent is a single decoded SSE event from a task's monitoring stream.
type TaskEvent struct {
	Type     string                 `json:"-"`
	Status   string                 `json:"status,omitempty"`
	Progress int                    `json:"progress,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

const (
	sseProgressLogInterval    = 30 * time.Second
	sseHeartbeatWarning       = 120 * time.Second
	sseDefaultOverallDeadline = 30 * time.Minute
)

// MonitorTask subscribes to task's SSE stream and blocks until the task
// reaches a terminal state (completed/failed) or ctx is cancelled. Progress
// events are logged at most once every 30 seconds; a gap of more than two
// minutes between any two events is logged as a stalled-heartbeat warning.
// Unparseable event payloads are skipped rather than failing the monitor.
func (c *Client) MonitorTask(ctx context.Context, handle TaskHandle) (TaskEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, sseDefaultOverallDeadline)
	defer cancel()

	path := handle.SSEPath
	if path == "" {
		path = "/tasks/" + handle.TaskID + "/stream"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return TaskEvent{}, cerrors.Wrap(cerrors.CodeClient, err, "failed to build SSE request")
	}
	req.Header = c.headers(map[string]string{"Accept": "text/event-stream"})

	resp, err := c.http.Do(req)
	if err != nil {
		return TaskEvent{}, cerrors.Wrap(classifyTransportError(err), err, "failed to open task stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return TaskEvent{}, &cerrors.ServiceError{
			Code:       classifyHTTPStatus(resp.StatusCode, ""),
			Message:    fmt.Sprintf("task stream returned %d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	}

	log := c.log
	lastProgressLog := time.Time{}
	lastEvent := time.Now()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4*1024), 1024*1024)

	var eventType = "message"
	var dataBuf bytes.Buffer

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return TaskEvent{}, cerrors.Wrap(cerrors.CodeTimeout, ctx.Err(), "task monitor deadline exceeded")
		default:
		}

		line := scanner.Text()
		if line == "" {
			if dataBuf.Len() == 0 {
				eventType = "message"
				continue
			}

			now := time.Now()
			if now.Sub(lastEvent) > sseHeartbeatWarning && log != nil {
				log.WithFields(map[string]interface{}{
					"task_id": handle.TaskID,
					"gap":     now.Sub(lastEvent).String(),
				}).Warn("task stream heartbeat stalled")
			}
			lastEvent = now

			event, ok := parseTaskEvent(eventType, dataBuf.String())
			dataBuf.Reset()
			eventType = "message"
			if !ok {
				continue
			}

			switch event.Type {
			case "progress":
				if now.Sub(lastProgressLog) >= sseProgressLogInterval && log != nil {
					log.WithFields(map[string]interface{}{
						"task_id":  handle.TaskID,
						"progress": event.Progress,
						"message":  event.Message,
					}).Info("task progress")
					lastProgressLog = now
				}
			case "completed":
				return event, nil
			case "failed", "error":
				return event, cerrors.New(cerrors.CodeServer, "task %s failed: %s", handle.TaskID, event.Error)
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
			dataBuf.WriteByte('\n')
		case strings.HasPrefix(line, ":"):
			// Comment/keep-alive line, ignore.
		}
	}

	if err := scanner.Err(); err != nil {
		return TaskEvent{}, cerrors.Wrap(cerrors.CodeTransient, err, "task stream read failed")
	}
	return TaskEvent{}, cerrors.New(cerrors.CodeTransient, "task stream closed before a terminal event for %s", handle.TaskID)
}

// IngestWithSSE starts an async ingestion and blocks until it completes,
// fails, or the monitor's overall deadline elapses.
func (c *Client) IngestWithSSE(ctx context.Context, id string, req IngestRequest) (TaskEvent, error) {
	req.Mode = IngestAsync
	handle, err := c.Ingest(ctx, id, req)
	if err != nil {
		return TaskEvent{}, err
	}
	return c.MonitorTask(ctx, handle)
}

// BackupWithSSE starts a backup and blocks until it completes or fails.
func (c *Client) BackupWithSSE(ctx context.Context, id string, req CreateBackupRequest) (TaskEvent, error) {
	handle, err := c.CreateBackup(ctx, id, req)
	if err != nil {
		return TaskEvent{}, err
	}
	return c.MonitorTask(ctx, handle)
}

// RestoreWithSSE starts a restore and blocks until it completes or fails.
func (c *Client) RestoreWithSSE(ctx context.Context, id string, req RestoreBackupRequest) (TaskEvent, error) {
	handle, err := c.RestoreBackup(ctx, id, req)
	if err != nil {
		return TaskEvent{}, err
	}
	return c.MonitorTask(ctx, handle)
}

// parseTaskEvent decodes a single SSE event's data payload. A payload that
// fails to parse as JSON is skipped (ok=false) rather than aborting the
// monitor loop, since a single malformed heartbeat shouldn't fail a
// multi-minute operation.
func parseTaskEvent(eventType, rawData string) (TaskEvent, bool) {
	data := strings.TrimSuffix(rawData, "\n")
	if eventType == "heartbeat" {
		return TaskEvent{Type: "heartbeat"}, true
	}
	if strings.TrimSpace(data) == "" {
		return TaskEvent{Type: eventType}, true
	}

	var event TaskEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return TaskEvent{}, false
	}
	event.Type = eventType
	return event, true
}
