package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"jiratoshortcut/models"
	"jiratoshortcut/utils"
)

// Operation はドライランで記録した書き込み操作です
type Operation struct {
	Method string
	Path   []string
	Body   json.RawMessage
	ID     models.ID // 作成時に割り当てた仮のID
}

// RecordingDestination は読み込みを実際のShortcutに渡し、書き込みを記録だけするクライアントです
// 作成操作には負の仮IDを返すため、後続の操作も同じ手順で組み立てられます
type RecordingDestination struct {
	inner  DestinationClient
	ops    []Operation
	nextID int
	fake   map[string]bool
}

// NewRecordingDestination は新しい記録用クライアントを作成します
func NewRecordingDestination(inner DestinationClient) *RecordingDestination {
	return &RecordingDestination{inner: inner, fake: make(map[string]bool)}
}

// Operations は記録した操作を順に返します
func (r *RecordingDestination) Operations() []Operation {
	return r.ops
}

// Reset は記録をクリアします
func (r *RecordingDestination) Reset() {
	r.ops = nil
}

// Get は実際のShortcutから読み込みます。仮IDを含むパスは空の一覧を返します
func (r *RecordingDestination) Get(ctx context.Context, path ...string) (json.RawMessage, error) {
	for _, p := range path {
		if r.fake[p] {
			return json.RawMessage("[]"), nil
		}
	}
	return r.inner.Get(ctx, path...)
}

// Post は作成操作を記録し、仮IDを返します
func (r *RecordingDestination) Post(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error) {
	id := r.fabricate()
	if err := r.record(http.MethodPost, path, body, id); err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"id":%s}`, id)), nil
}

// Put は更新操作を記録します
func (r *RecordingDestination) Put(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error) {
	if err := r.record(http.MethodPut, path, body, ""); err != nil {
		return nil, err
	}
	return json.RawMessage("{}"), nil
}

// Delete は削除操作を記録します
func (r *RecordingDestination) Delete(ctx context.Context, path ...string) error {
	return r.record(http.MethodDelete, path, nil, "")
}

// UploadFile はアップロードを記録し、仮のファイルIDを返します
func (r *RecordingDestination) UploadFile(ctx context.Context, filename string, content []byte, mimeType string) (models.ID, error) {
	id := r.fabricate()
	body := map[string]interface{}{"name": filename, "size": len(content), "content_type": mimeType}
	if err := r.record(http.MethodPost, []string{"files"}, body, id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *RecordingDestination) fabricate() models.ID {
	r.nextID--
	s := strconv.Itoa(r.nextID)
	r.fake[s] = true
	return models.ID(s)
}

func (r *RecordingDestination) record(method string, path []string, body interface{}, id models.ID) error {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("JSONエンコードエラー: %w", err)
		}
		raw = data
	}
	r.ops = append(r.ops, Operation{Method: method, Path: path, Body: raw, ID: id})
	return nil
}

// WriteReport はドライランの結果を差分形式 (+ 作成, ~ 更新, - 削除) で出力します
func WriteReport(w io.Writer, project *models.Project, stats *Stats, ops []Operation) {
	header := color.New(color.Bold)
	header.Fprintf(w, "== %s %s ==\n", project.Key, project.Name)

	fmt.Fprintf(w, "エピック %d / ストーリー %d / サブタスク %d / コメント %d / 添付ファイル %d (%s)\n",
		stats.Epics, stats.Stories, stats.Subtasks, stats.Comments, stats.Attachments, utils.HumanSize(stats.AttachmentBytes))
	writeCounts(w, "ステータス", stats.Statuses)
	writeCounts(w, "リンクタイプ", stats.LinkTypes)
	writeCounts(w, "ユーザー", stats.Users)

	create := color.New(color.FgGreen)
	update := color.New(color.FgYellow)
	remove := color.New(color.FgRed)
	for _, op := range ops {
		line := strings.Join(op.Path, "/")
		if summary := summarize(op.Body); summary != "" {
			line += " " + summary
		}
		switch op.Method {
		case http.MethodPost:
			create.Fprintf(w, "+ %s\n", line)
		case http.MethodPut:
			update.Fprintf(w, "~ %s\n", line)
		case http.MethodDelete:
			remove.Fprintf(w, "- %s\n", line)
		}
	}
	fmt.Fprintln(w)
}

func writeCounts(w io.Writer, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	parts := make([]string, 0, len(counts))
	for _, k := range SortedKeys(counts) {
		name := k
		if name == "" {
			name = "(なし)"
		}
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[k]))
	}
	fmt.Fprintf(w, "%s: %s\n", label, strings.Join(parts, ", "))
}

// summarize はリクエストボディから表示用の名前を取り出します
func summarize(body json.RawMessage) string {
	if len(body) == 0 {
		return ""
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"name", "description", "text", "verb"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return strconv.Quote(truncate(s, 60))
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
