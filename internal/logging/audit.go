package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	AuditRunStart  AuditEventType = "run_start"
	AuditRunEnd    AuditEventType = "run_end"
	AuditLLMCall   AuditEventType = "llm_call"
	AuditLLMError  AuditEventType = "llm_error"
	AuditFileWrite AuditEventType = "file_write"
	AuditMailFetch AuditEventType = "mail_fetch"
	AuditMailSend  AuditEventType = "mail_send"
)

// AuditEvent is one JSON line of the audit trail.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat,omitempty"`
	RunID      string                 `json:"run,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditRunID  string
	auditLogger *AuditLogger
)

// AuditLogger writes audit events, optionally scoped to a category.
type AuditLogger struct {
	category Category
}

// InitAudit opens <logs>/<date>_audit.jsonl for the given run.
func InitAudit(runID string) error {
	if !IsDebugMode() || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	auditRunID = runID
	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))
	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditFor returns an audit logger tagged with a category.
func AuditFor(category Category) *AuditLogger {
	return &AuditLogger{category: category}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.RunID == "" {
		event.RunID = auditRunID
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.Write(append(data, '\n'))
	}
}

// RunStart records the beginning of a command.
func (a *AuditLogger) RunStart(command string) {
	a.Log(AuditEvent{EventType: AuditRunStart, Target: command, Success: true})
}

// RunEnd records the end of a command.
func (a *AuditLogger) RunEnd(command string, durationMs int64, err error) {
	ev := AuditEvent{EventType: AuditRunEnd, Target: command, DurationMs: durationMs, Success: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// LLMCall records one completion request.
func (a *AuditLogger) LLMCall(model string, promptChars int, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMCall
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryAPI),
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"prompt_chars": promptChars},
	})
}

// FileWrite records a generated output file.
func (a *AuditLogger) FileWrite(path string, rows int) {
	a.Log(AuditEvent{
		EventType: AuditFileWrite,
		Target:    path,
		Success:   true,
		Fields:    map[string]interface{}{"rows": rows},
	})
}

// MailFetch records the outcome of one fetched UID.
func (a *AuditLogger) MailFetch(uid uint32, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditMailFetch,
		Category:  string(CategoryFetch),
		Target:    fmt.Sprint(uid),
		Success:   success,
		Error:     errMsg,
	})
}

// MailSend records an outgoing message.
func (a *AuditLogger) MailSend(to, subject string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditMailSend,
		Category:  string(CategoryLedger),
		Target:    to,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"subject": subject},
	})
}
