package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AttachmentStore はダウンロードした添付ファイルを <フォルダ>/<イシューキー>/<添付ID>/<ファイル名> に保存します
// 同じイシューに同名の添付ファイルが複数あっても上書きしません
type AttachmentStore struct {
	root string
}

// NewAttachmentStore は新しい添付ファイル置き場を作成します
func NewAttachmentStore(root string) *AttachmentStore {
	if root == "" {
		root = "attachments"
	}
	return &AttachmentStore{root: root}
}

// Path は添付ファイルの保存先パスを返します
func (s *AttachmentStore) Path(issueKey, attachmentID, filename string) string {
	return filepath.Join(s.root, safeName(issueKey), safeName(attachmentID), safeName(filename))
}

// Find は保存済みのファイルを探します
// size が0より大きい場合はサイズが一致するものだけを保存済みとみなします
func (s *AttachmentStore) Find(issueKey, attachmentID, filename string, size int64) (string, bool) {
	path := s.Path(issueKey, attachmentID, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	if size > 0 && info.Size() != size {
		return "", false
	}
	return path, true
}

// Save は添付ファイルの中身を保存し、保存先パスを返します
func (s *AttachmentStore) Save(issueKey, attachmentID, filename string, content []byte) (string, error) {
	path := s.Path(issueKey, attachmentID, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("フォルダ作成エラー: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("ファイル書き込みエラー: %w", err)
	}
	return path, nil
}

// Load は保存済みの添付ファイルを読み込みます
func (s *AttachmentStore) Load(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("添付ファイルが保存されていません")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ファイル読み込みエラー: %w", err)
	}
	return data, nil
}

// safeName はパス区切りを含む名前をファイル名として安全な形にします
func safeName(name string) string {
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
