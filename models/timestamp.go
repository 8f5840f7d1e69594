package models

import (
	"fmt"
	"strings"
	"time"
)

// timestampFormats はJIRA REST API とXMLエクスポートで使われる日時形式です
var timestampFormats = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z0700",
	time.RFC3339Nano,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05.0",
	"2006-01-02",
}

// ParseTimestamp はJIRAの日時文字列を変換します。空文字列はゼロ値になります
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("日付変換エラー: '%s'", s)
}

// FormatTimestamp はShortcut APIが受け付けるRFC3339形式で返します
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
