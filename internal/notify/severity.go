package notify

import (
	"strings"

	"github.com/lalithlochan/pulse/internal/db"
)

var severityLevels = map[string]string{
	"low":      db.SeverityLow,
	"medium":   db.SeverityMedium,
	"high":     db.SeverityHigh,
	"critical": db.SeverityHigh,
	"info":     db.SeverityLow,
	"warning":  db.SeverityMedium,
	"error":    db.SeverityHigh,
}

// NormalizeSeverity maps a caller's severity, or its priority when no
// severity is given, onto low, medium or high. Unknown and empty values
// map to medium.
func NormalizeSeverity(severity, priority string) string {
	value := strings.TrimSpace(severity)
	if value == "" {
		value = strings.TrimSpace(priority)
	}

	if level, ok := severityLevels[strings.ToLower(value)]; ok {
		return level
	}
	return db.SeverityMedium
}
