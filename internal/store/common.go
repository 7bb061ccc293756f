package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

// TruncateContent caps team-message content at the store limit. Messages are
// append-only, so the cap is applied once, on insert.
func TruncateContent(s string) string {
	if len(s) <= models.DefaultMaxMessageLength {
		return s
	}
	return s[:models.DefaultMaxMessageLength]
}

func nowUnix() int64 { return time.Now().UTC().Unix() }

func unixTime(v int64) time.Time { return time.Unix(v, 0).UTC() }

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	v := unixTime(n.Int64)
	return &v
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
