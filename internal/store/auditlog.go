package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pavilion-host/pavilion/internal/events"
)

// AuditLogger persists security-relevant bus events to JSONL files organized
// by plugin namespace. Capability grants, denials, and guard blocks all land
// here so "which plugin touched what" stays reconstructable.
type AuditLogger struct {
	dir         string
	bus         *events.Bus
	unsubscribe func()
}

// NewAuditLogger creates an AuditLogger that subscribes to the security event
// types and writes them as JSONL to dir, one file per plugin namespace.
func NewAuditLogger(dir string, bus *events.Bus) *AuditLogger {
	al := &AuditLogger{
		dir: dir,
		bus: bus,
	}
	al.unsubscribe = bus.Subscribe(al.handleEvent,
		events.EventCapabilityGranted,
		events.EventCapabilityDenied,
		events.EventGuardBlocked,
		events.EventPluginEnabled,
		events.EventPluginDisabled,
	)
	return al
}

// Close unsubscribes the logger from the event bus.
func (al *AuditLogger) Close() {
	if al.unsubscribe != nil {
		al.unsubscribe()
	}
}

func (al *AuditLogger) handleEvent(e events.Event) {
	_ = al.writeEvent(e)
}

func (al *AuditLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := al.logPath(e.Namespace)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (al *AuditLogger) logPath(namespace string) string {
	if namespace == "" {
		return filepath.Join(al.dir, "_host.jsonl")
	}
	return filepath.Join(al.dir, namespace+".jsonl")
}
