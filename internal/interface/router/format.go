package router

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mahan-lms/lms-assistant/pkg/result"
)

// NoRecords is rendered for a successful empty list.
const NoRecords = "no matching records"

// Format renders an envelope as plain text for the caller. Empty lists are
// reported as NoRecords; interpreting "not found" is the router's job, not
// the operation's.
func Format(env result.Envelope) string {
	if !env.Success {
		return "error: " + env.Error
	}

	switch data := env.Data.(type) {
	case nil:
		return "ok" + formatMetadata(env.Metadata)
	case []any:
		if len(data) == 0 {
			return NoRecords
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d record(s)", len(data))
		if total, ok := env.Metadata["total_count"]; ok {
			fmt.Fprintf(&b, " of %v", total)
		}
		b.WriteString(":")
		for _, item := range data {
			b.WriteString("\n- ")
			b.WriteString(compact(item))
		}
		return b.String()
	default:
		return compact(data)
	}
}

func compact(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func formatMetadata(md map[string]any) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		if k == "timestamp" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, md[k])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
