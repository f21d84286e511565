package schema

import "encoding/json"

// Severity classifies a trace line. Hosts map severities to colors with a
// plain lookup instead of substring matching.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	SeveritySecurity
)

var severityNames = [...]string{"debug", "info", "warn", "error", "security"}

func (s Severity) String() string {
	if s < SeverityDebug || s > SeveritySecurity {
		return "unknown"
	}
	return severityNames[s]
}

// MarshalJSON encodes the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a lowercase severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range severityNames {
		if n == name {
			*s = Severity(i)
			return nil
		}
	}
	return NewErrorf(ErrCodeValidation, "unknown severity %q", name)
}

// LogEntry is one line of the execution trace produced by a step, reset, or
// construction. Entries are data, not errors: hosts render them without
// unwinding.
type LogEntry struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}
