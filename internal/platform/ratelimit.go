package platform

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// The platform reports quota consumption in one of two response header
// families. The business-use-case family takes priority when both are
// present; lookups are case-insensitive.
const (
	businessUsageHeader = "X-Business-Use-Case-Usage"
	appUsageHeader      = "X-App-Usage"
)

// Usage holds the rate-limit quota consumption reported by the most recent
// response. The zero value means "no usage reported".
type Usage struct {
	callCount     int
	totalTime     int
	totalCPUTime  int
	regainSeconds int
}

// ParseUsage extracts rate-limit usage from response headers.
//
// The business-use-case header is checked first, then the app usage header;
// whichever is found first wins. Headers absent or malformed degrade to the
// zero Usage rather than erroring.
func ParseUsage(h http.Header) Usage {
	if v := h.Get(businessUsageHeader); v != "" {
		return parseBusinessUsage(v)
	}
	if v := h.Get(appUsageHeader); v != "" {
		return parseAppUsage(v)
	}
	return Usage{}
}

// CallCount returns the number of calls counted against the quota, 0 if absent.
func (u Usage) CallCount() int {
	return u.callCount
}

// TotalTime returns the total time quota consumption, 0 if absent.
func (u Usage) TotalTime() int {
	return u.totalTime
}

// TotalCPUTime returns the total CPU time quota consumption, 0 if absent.
func (u Usage) TotalCPUTime() int {
	return u.totalCPUTime
}

// EstimatedTimeToRegainAccess returns the advisory throttling delay in
// seconds. ok is false both when the field is absent and when the platform
// reported zero seconds: neither case warrants blocking, and callers must not
// tell them apart.
func (u Usage) EstimatedTimeToRegainAccess() (seconds int, ok bool) {
	if u.regainSeconds <= 0 {
		return 0, false
	}
	return u.regainSeconds, true
}

// parseBusinessUsage parses the business-use-case header value: a JSON object
// mapping business identifiers to arrays of usage entries. The first entry
// found wins.
func parseBusinessUsage(value string) Usage {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &payload); err != nil {
		return Usage{}
	}

	for _, raw := range payload {
		var entries []map[string]any
		if err := json.Unmarshal(raw, &entries); err != nil {
			// Non-array usage payloads degrade gracefully.
			continue
		}
		if len(entries) == 0 {
			continue
		}
		return usageFromFields(entries[0])
	}
	return Usage{}
}

// parseAppUsage parses the app usage header value: a flat JSON object.
func parseAppUsage(value string) Usage {
	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return Usage{}
	}
	return usageFromFields(fields)
}

func usageFromFields(fields map[string]any) Usage {
	return Usage{
		callCount:     toInt(fields["call_count"]),
		totalTime:     toInt(fields["total_time"]),
		totalCPUTime:  toInt(fields["total_cputime"]),
		regainSeconds: toInt(fields["estimated_time_to_regain_access"]),
	}
}

// toInt coerces string and numeric JSON values to an integer, 0 otherwise.
func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	default:
		return 0
	}
}
