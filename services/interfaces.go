package services

import (
	"context"
	"encoding/json"

	"jiratoshortcut/api"
	"jiratoshortcut/models"
)

// SourceClient は移行元 (JIRA) からデータを読み込むクライアントです
// 一覧系のメソッドはページングを最後まで辿った完全な一覧を返します
type SourceClient interface {
	GetProjects(ctx context.Context) ([]api.JiraProject, error)
	GetProject(ctx context.Context, key string) (*api.JiraProject, error)
	GetEpics(ctx context.Context, projectKey string) ([]api.JiraIssue, error)
	GetIssues(ctx context.Context, projectKey, epicKey string) ([]api.JiraIssue, error)
	GetSubtasks(ctx context.Context, issueKey string) ([]api.JiraIssue, error)
	GetComments(ctx context.Context, issueKey string) ([]api.JiraComment, error)
	GetAttachmentContent(ctx context.Context, att api.JiraAttachment) ([]byte, error)
	GetLinks(ctx context.Context, issueKey string) ([]api.JiraIssueLink, error)
	GetWatchers(ctx context.Context, issueKey string) ([]api.JiraUser, error)
}

// DestinationClient は移行先 (Shortcut) へ書き込むクライアントです
// path はリソース名・ID・サブリソースを順に並べたものです (例: "stories", "12", "comments")
type DestinationClient interface {
	Get(ctx context.Context, path ...string) (json.RawMessage, error)
	Post(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error)
	Put(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error)
	Delete(ctx context.Context, path ...string) error
	UploadFile(ctx context.Context, filename string, content []byte, mimeType string) (models.ID, error)
}

// MappingStore は読み込み済みのマッピング文書です
type MappingStore interface {
	MapProject(key string) (string, bool)
	MapUser(handle string) (string, bool)
	MapStatus(status string) (string, bool)
	MapEpicStatus(status string) (string, bool)
	MapStoryType(issueType string) (string, bool)
	MapSubtaskStatus(status string) (bool, bool)
	MapLinkType(linkType string) (string, bool)
}

// RunSettings は1回の実行で使う移行先の設定です
type RunSettings struct {
	Workflow          string // 使用するワークフロー名 (空なら最初のワークフロー)
	TeamID            string
	AttachmentsFolder string
}

// RunContext は1回の実行で共有するクライアントとキャッシュです
// Registry のキャッシュは実行ごとに作り直され、実行をまたいで共有されません
type RunContext struct {
	Source      SourceClient
	Destination DestinationClient
	Mapping     MappingStore
	Registry    *Registry
	Attachments *AttachmentStore
	TeamID      models.ID
}

// NewRunContext は新しい実行コンテキストを作成します
func NewRunContext(source SourceClient, dest DestinationClient, mapping MappingStore, settings RunSettings) *RunContext {
	return &RunContext{
		Source:      source,
		Destination: dest,
		Mapping:     mapping,
		Registry:    NewRegistry(dest, mapping, settings.Workflow),
		Attachments: NewAttachmentStore(settings.AttachmentsFolder),
		TeamID:      models.ParseID(settings.TeamID),
	}
}
