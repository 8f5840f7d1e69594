package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ID はShortcut側の識別子です
// 数値IDとUUIDが混在するため、JSON上の表現 (`123` や `"5f0c..."`) のまま保持します
// 空文字列は未割り当てを表します
type ID string

// ParseID は設定ファイルなどの文字列からIDを作成します
func ParseID(s string) ID {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(s)
	}
	return ID(strconv.Quote(s))
}

// IsZero は未割り当てかどうかを返します
func (id ID) IsZero() bool {
	return id == ""
}

// String はURLパスやログで使う形式を返します
func (id ID) String() string {
	if strings.HasPrefix(string(id), `"`) {
		var s string
		if err := json.Unmarshal([]byte(id), &s); err == nil {
			return s
		}
	}
	return string(id)
}

// MarshalJSON は保持しているJSON表現をそのまま出力します
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

// UnmarshalJSON はJSON表現をそのまま保持します
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = ""
		return nil
	}
	*id = ID(s)
	return nil
}
