// Package logging provides the console logger used by every protocol
// component. Lines are single-line text: LEVEL TIMESTAMP [component] msg k=v.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// sink is shared by a logger and all loggers derived from it.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes leveled, component-scoped lines.
type Logger struct {
	sink      *sink
	component string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sink: &sink{output: io.Discard, minLevel: LevelError}}
}

// WithComponent returns a logger sharing this one's output under a new component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// SetLevel sets the minimum level for this logger and its derivatives.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer for this logger and its derivatives.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}
	l.sink.output.Write([]byte(line))
}

// --- Protocol event helpers ---

// AgentRegistered logs an accepted registration.
func (l *Logger) AgentRegistered(agentID, agentType string, quality float64) {
	l.Info("agent_registered", map[string]interface{}{
		"agent":   agentID,
		"type":    agentType,
		"quality": quality,
	})
}

// AgentRejected logs a refused registration with its result code.
func (l *Logger) AgentRejected(agentID, code, reason string) {
	l.Warn("agent_rejected", map[string]interface{}{
		"agent":  agentID,
		"code":   code,
		"reason": reason,
	})
}

// AgentUnregistered logs an explicit removal.
func (l *Logger) AgentUnregistered(agentID string, existed bool) {
	l.Info("agent_unregistered", map[string]interface{}{
		"agent":   agentID,
		"existed": existed,
	})
}

// MessageRouted logs the outcome of one routed message.
func (l *Logger) MessageRouted(messageID, source, target string, duration time.Duration, code string) {
	fields := map[string]interface{}{
		"message":  messageID,
		"source":   source,
		"target":   target,
		"duration": duration.String(),
	}
	if code != "" {
		fields["code"] = code
		l.Warn("message_failed", fields)
		return
	}
	l.Debug("message_routed", fields)
}

// AgentDead logs a liveness timeout.
func (l *Logger) AgentDead(agentID string, silence time.Duration) {
	l.Warn("agent_dead", map[string]interface{}{
		"agent":   agentID,
		"silence": silence.String(),
	})
}

// TriggerFired logs a workflow trigger match.
func (l *Logger) TriggerFired(triggerID, messageID string, autoExecute bool) {
	l.Info("trigger_fired", map[string]interface{}{
		"trigger": triggerID,
		"message": messageID,
		"auto":    autoExecute,
	})
}
