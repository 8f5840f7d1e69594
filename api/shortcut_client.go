package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"jiratoshortcut/config"
	"jiratoshortcut/models"
	"jiratoshortcut/utils"
)

const (
	// DefaultMaxRetries はレート制限 (429) 時の最大再試行回数です
	DefaultMaxRetries = 5

	// DefaultRetryDelay は再試行の初回待ち時間です (指数的に増加)
	DefaultRetryDelay = time.Second
)

// ShortcutClient はShortcut REST API (v3) とのやり取りを処理します
type ShortcutClient struct {
	endpoint   string
	token      string
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewShortcutClient は新しいShortcutクライアントを作成します
func NewShortcutClient(cfg *config.Config) *ShortcutClient {
	endpoint := cfg.ShortcutEndpoint
	if endpoint == "" {
		endpoint = config.DefaultShortcutEndpoint
	}
	return &ShortcutClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      cfg.ShortcutToken,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// WithEndpoint はエンドポイントを変更したクライアントを返します
func (c *ShortcutClient) WithEndpoint(endpoint string) *ShortcutClient {
	clone := *c
	clone.endpoint = strings.TrimRight(endpoint, "/")
	return &clone
}

// WithRetryDelay は再試行の初回待ち時間を変更したクライアントを返します
func (c *ShortcutClient) WithRetryDelay(delay time.Duration) *ShortcutClient {
	clone := *c
	clone.retryDelay = delay
	return &clone
}

// CheckAuth はShortcut認証をチェックし、トークンの持ち主を返します
func (c *ShortcutClient) CheckAuth(ctx context.Context) (*ShortcutMember, error) {
	body, err := c.Get(ctx, "member")
	if err != nil {
		return nil, fmt.Errorf("認証失敗: %w", err)
	}
	var member ShortcutMember
	if err := json.Unmarshal(body, &member); err != nil {
		return nil, fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	return &member, nil
}

// Get はリソースを取得します。path はリソース名・ID・サブリソースの順です
func (c *ShortcutClient) Get(ctx context.Context, path ...string) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodGet, path, nil)
}

// Post はリソースを作成します
func (c *ShortcutClient) Post(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

// Put はリソースを更新します
func (c *ShortcutClient) Put(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPut, path, body)
}

// Delete はリソースを削除します
func (c *ShortcutClient) Delete(ctx context.Context, path ...string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, path, nil)
	return err
}

// UploadFile はファイルをアップロードし、ファイルIDを返します
func (c *ShortcutClient) UploadFile(ctx context.Context, filename string, content []byte, mimeType string) (models.ID, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file0"; filename="%s"`, escapeQuotes(filename)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("multipartフォーム作成エラー: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("ファイルコピーエラー: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("writerクローズエラー: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/"+ResourceFiles, body.Bytes(), writer.FormDataContentType())
	if err != nil {
		return "", fmt.Errorf("添付ファイルアップロード失敗 (%s): %w", filename, err)
	}

	var files []Entity
	if err := json.Unmarshal(respBody, &files); err != nil {
		return "", fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	if len(files) == 0 || files[0].ID.IsZero() {
		return "", fmt.Errorf("アップロードしたファイルのIDが見つかりません")
	}
	return files[0].ID, nil
}

func (c *ShortcutClient) doJSON(ctx context.Context, method string, path []string, body interface{}) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("JSONエンコードエラー: %w", err)
		}
	}
	contentType := ""
	if payload != nil {
		contentType = "application/json"
	}
	respBody, err := c.do(ctx, method, joinPath(path), payload, contentType)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(respBody), nil
}

// do はリクエストを送信します。429 の場合のみ Retry-After と指数バックオフで待って再送します
func (c *ShortcutClient) do(ctx context.Context, method, path string, payload []byte, contentType string) ([]byte, error) {
	if c.token == "" {
		return nil, fmt.Errorf("Shortcut APIトークンが設定されていません")
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryDelay
	exp.MaxElapsedTime = 0
	wait := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(c.maxRetries))}

	var respBody []byte
	operation := func() error {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("リクエスト作成エラー: %w", err))
		}
		req.Header.Set("Shortcut-Token", c.token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		utils.LogDebug("Shortcut %s %s", method, path)
		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("リクエスト送信エラー: %w", err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("レスポンス読み込みエラー: %w", err))
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			respBody = data
			return nil
		}

		remote := &RemoteError{
			Service: "Shortcut",
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Body:    string(data),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			wait.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			utils.LogWarn("Shortcut APIのレート制限に達しました。待機して再試行します: %s %s", method, path)
			return remote
		}
		return backoff.Permanent(remote)
	}

	if err := backoff.Retry(operation, backoff.WithContext(wait, ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}

// retryAfterBackOff はサーバーが指定した Retry-After をバックオフ間隔の下限にします
type retryAfterBackOff struct {
	backoff.BackOff
	retryAfter time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.retryAfter > next {
		next = b.retryAfter
	}
	b.retryAfter = 0
	return next
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func joinPath(segments []string) string {
	var b strings.Builder
	for _, s := range segments {
		if s == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
