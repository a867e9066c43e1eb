package main

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// alertLog appends alerts as JSON lines to alerts.log under the data
// directory. It gives operators a durable trail without requiring a
// pager integration to be configured.
type alertLog struct {
	mu   sync.Mutex
	path string
}

func newAlertLog(dataDir string) *alertLog {
	return &alertLog{path: filepath.Join(dataDir, "alerts.log")}
}

type alertRecord struct {
	Time     time.Time         `json:"time"`
	Severity string            `json:"severity"`
	Category string            `json:"category"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
}

func (a *alertLog) SendAlert(severity, category, title, message string, context map[string]string) error {
	line, err := json.Marshal(alertRecord{
		Time:     time.Now().UTC(),
		Severity: severity,
		Category: category,
		Title:    title,
		Message:  message,
		Context:  context,
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
