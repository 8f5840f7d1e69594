package api

import (
	"errors"
	"fmt"
	"net/http"
)

// RemoteError はJIRA・ShortcutのAPIが失敗ステータスを返したことを表します
type RemoteError struct {
	Service string
	Method  string
	Path    string
	Status  int
	Body    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s API エラー %s %s: %d %s", e.Service, e.Method, e.Path, e.Status, e.Body)
}

// IsNotFound は404かどうかを返します
func IsNotFound(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Status == http.StatusNotFound
}
