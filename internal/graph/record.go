package graph

import "time"

// GetString returns r[key] as a string, or "".
func GetString(r Record, key string) string {
	s, _ := r[key].(string)
	return s
}

// GetInt64 accepts the integer and float shapes the driver and test
// fixtures produce. Floats are truncated.
func GetInt64(r Record, key string) int64 {
	switch n := r[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func GetInt(r Record, key string) int {
	return int(GetInt64(r, key))
}

func GetFloat(r Record, key string) float64 {
	switch n := r[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func GetBool(r Record, key string) bool {
	b, _ := r[key].(bool)
	return b
}

// GetTime reads RFC 3339 strings, as audit events are stored, or native
// temporal values. Absent or unparsable values read as the zero time.
func GetTime(r Record, key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
