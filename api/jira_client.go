package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jiratoshortcut/config"
	"jiratoshortcut/utils"
)

// searchFields はJQL検索で取得するフィールドです
const searchFields = "summary,description,status,issuetype,assignee,reporter,created,updated,duedate,parent,subtasks,issuelinks,attachment"

// storyFilter はエピックとサブタスクを除外するJQL条件です
const storyFilter = "issuetype != Epic AND issuetype not in subTaskIssueTypes()"

// JiraClient はJIRA REST API (v2) とのやり取りを処理します
type JiraClient struct {
	baseURL  string
	user     string
	token    string
	pageSize int
	client   *http.Client
}

// NewJiraClient は新しいJIRAクライアントを作成します
func NewJiraClient(cfg *config.Config) *JiraClient {
	return &JiraClient{
		baseURL:  strings.TrimRight(cfg.JiraURL, "/"),
		user:     cfg.JiraUser,
		token:    cfg.JiraToken,
		pageSize: DefaultPageSize,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// WithPageSize はページサイズを変更したクライアントを返します
func (j *JiraClient) WithPageSize(size int) *JiraClient {
	clone := *j
	clone.pageSize = size
	return &clone
}

// CheckAuth はJIRA認証をチェックします
func (j *JiraClient) CheckAuth(ctx context.Context) error {
	if _, err := j.get(ctx, "/rest/api/2/myself", nil); err != nil {
		return fmt.Errorf("認証失敗: %w", err)
	}
	return nil
}

// ServerInfo はJIRAサーバーの情報を取得します
func (j *JiraClient) ServerInfo(ctx context.Context) (*JiraServerInfo, error) {
	var info JiraServerInfo
	if err := j.getJSON(ctx, "/rest/api/2/serverInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("サーバー情報取得エラー: %w", err)
	}
	return &info, nil
}

// GetProjects はアクセス可能な全プロジェクトを取得します
func (j *JiraClient) GetProjects(ctx context.Context) ([]JiraProject, error) {
	var projects []JiraProject
	if err := j.getJSON(ctx, "/rest/api/2/project", nil, &projects); err != nil {
		return nil, fmt.Errorf("プロジェクト一覧取得エラー: %w", err)
	}
	return projects, nil
}

// GetProject はキーを指定してプロジェクトを取得します
func (j *JiraClient) GetProject(ctx context.Context, key string) (*JiraProject, error) {
	var project JiraProject
	path := "/rest/api/2/project/" + url.PathEscape(key)
	if err := j.getJSON(ctx, path, url.Values{"expand": {"description,lead"}}, &project); err != nil {
		return nil, fmt.Errorf("プロジェクト %s 取得エラー: %w", key, err)
	}
	return &project, nil
}

// GetEpics はプロジェクトの全エピックを取得します
func (j *JiraClient) GetEpics(ctx context.Context, projectKey string) ([]JiraIssue, error) {
	jql := fmt.Sprintf(`project = "%s" AND issuetype = Epic ORDER BY key ASC`, projectKey)
	return j.Search(ctx, jql)
}

// GetIssues はエピック配下のストーリーを取得します
// epicKey が空の場合はエピックに属さないストーリーを返します
func (j *JiraClient) GetIssues(ctx context.Context, projectKey, epicKey string) ([]JiraIssue, error) {
	var jql string
	if epicKey == "" {
		jql = fmt.Sprintf(`project = "%s" AND "Epic Link" is EMPTY AND %s ORDER BY key ASC`, projectKey, storyFilter)
	} else {
		jql = fmt.Sprintf(`project = "%s" AND "Epic Link" = "%s" AND %s ORDER BY key ASC`, projectKey, epicKey, storyFilter)
	}
	return j.Search(ctx, jql)
}

// GetSubtasks はイシューのサブタスクを取得します
func (j *JiraClient) GetSubtasks(ctx context.Context, issueKey string) ([]JiraIssue, error) {
	return j.Search(ctx, fmt.Sprintf(`parent = "%s" ORDER BY key ASC`, issueKey))
}

// Search はJQLで検索し、全ページ分のイシューを返します
func (j *JiraClient) Search(ctx context.Context, jql string) ([]JiraIssue, error) {
	issues, err := collectPages(j.pageSize, func(startAt, maxResults int) ([]JiraIssue, error) {
		params := url.Values{
			"jql":        {jql},
			"fields":     {searchFields},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(maxResults)},
		}
		var result JiraSearchResult
		if err := j.getJSON(ctx, "/rest/api/2/search", params, &result); err != nil {
			return nil, err
		}
		return result.Issues, nil
	})
	if err != nil {
		return nil, fmt.Errorf("イシュー検索エラー (%s): %w", jql, err)
	}
	return issues, nil
}

// GetComments はイシューの全コメントを取得します
func (j *JiraClient) GetComments(ctx context.Context, issueKey string) ([]JiraComment, error) {
	path := fmt.Sprintf("/rest/api/2/issue/%s/comment", url.PathEscape(issueKey))
	comments, err := collectPages(j.pageSize, func(startAt, maxResults int) ([]JiraComment, error) {
		params := url.Values{
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(maxResults)},
			"orderBy":    {"created"},
		}
		var page JiraCommentPage
		if err := j.getJSON(ctx, path, params, &page); err != nil {
			return nil, err
		}
		return page.Comments, nil
	})
	if err != nil {
		return nil, fmt.Errorf("イシュー %s のコメント取得エラー: %w", issueKey, err)
	}
	return comments, nil
}

// GetLinks はイシューの外向きリンクを取得します
func (j *JiraClient) GetLinks(ctx context.Context, issueKey string) ([]JiraIssueLink, error) {
	var issue JiraIssue
	path := "/rest/api/2/issue/" + url.PathEscape(issueKey)
	if err := j.getJSON(ctx, path, url.Values{"fields": {"issuelinks"}}, &issue); err != nil {
		return nil, fmt.Errorf("イシュー %s のリンク取得エラー: %w", issueKey, err)
	}
	var outward []JiraIssueLink
	for _, link := range issue.Fields.IssueLinks {
		if link.OutwardIssue != nil {
			outward = append(outward, link)
		}
	}
	return outward, nil
}

// GetWatchers はイシューのウォッチャーを取得します
func (j *JiraClient) GetWatchers(ctx context.Context, issueKey string) ([]JiraUser, error) {
	var result struct {
		Watchers []JiraUser `json:"watchers"`
	}
	path := fmt.Sprintf("/rest/api/2/issue/%s/watchers", url.PathEscape(issueKey))
	if err := j.getJSON(ctx, path, nil, &result); err != nil {
		return nil, fmt.Errorf("イシュー %s のウォッチャー取得エラー: %w", issueKey, err)
	}
	return result.Watchers, nil
}

// GetAttachmentContent は添付ファイルの中身をダウンロードします
func (j *JiraClient) GetAttachmentContent(ctx context.Context, att JiraAttachment) ([]byte, error) {
	if att.Content == "" {
		return nil, fmt.Errorf("添付ファイル %s のURLがありません", att.Filename)
	}
	body, err := j.do(ctx, http.MethodGet, att.Content, nil)
	if err != nil {
		return nil, fmt.Errorf("添付ファイル %s のダウンロードエラー: %w", att.Filename, err)
	}
	return body, nil
}

func (j *JiraClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	body, err := j.get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	return nil
}

func (j *JiraClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	apiURL := j.baseURL + path
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}
	return j.do(ctx, http.MethodGet, apiURL, nil)
}

// do は認証付きリクエストを送信し、レスポンスボディを返します
func (j *JiraClient) do(ctx context.Context, method, apiURL string, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成エラー: %w", err)
	}

	if j.user != "" {
		req.SetBasicAuth(j.user, j.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+j.token)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	utils.LogDebug("JIRA %s %s", method, apiURL)
	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("リクエスト送信エラー: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み込みエラー: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{
			Service: "JIRA",
			Method:  method,
			Path:    req.URL.Path,
			Status:  resp.StatusCode,
			Body:    string(respBody),
		}
	}

	return respBody, nil
}
