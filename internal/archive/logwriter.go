package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Conversation categories, derived from the conversation identity's
// suffix pattern. Each gets its own log subtree so a day's traffic is
// grouped by conversation type.
const (
	CategoryIndividual = "individual"
	CategoryGroup      = "group"
	CategoryStatus     = "status"
)

// Category derives the archival category from a conversation
// identity suffix.
func Category(conversationID string) string {
	switch {
	case strings.HasSuffix(conversationID, "@broadcast"):
		return CategoryStatus
	case strings.Contains(conversationID, "@g."):
		return CategoryGroup
	default:
		return CategoryIndividual
	}
}

// appendEntry writes one entry as a JSON line to its per-day,
// per-category log: <dir>/<year>/<month>/<category>/<day>.log. The
// file is opened append-only, so replaying a log in written order
// reconstructs arrival order for that day.
func (a *Archiver) appendEntry(e *Entry) error {
	ts := e.Timestamp.UTC()
	dir := filepath.Join(a.cfg.Dir, ts.Format("2006"), ts.Format("01"), Category(e.Conversation))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal archive entry %s: %w", e.MessageID, err)
	}

	path := filepath.Join(dir, ts.Format("02")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to log file %s: %w", path, err)
	}
	return nil
}
