package api

// JiraUser はJIRAユーザーを表します
type JiraUser struct {
	Key         string `json:"key,omitempty"`
	Name        string `json:"name,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Handle はマッピングで使うユーザー識別子を返します
// Server/Data Center は key (なければ name)、Cloud は accountId を使います
func (u *JiraUser) Handle() string {
	if u == nil {
		return ""
	}
	switch {
	case u.Key != "":
		return u.Key
	case u.Name != "":
		return u.Name
	default:
		return u.AccountID
	}
}

// JiraProject はJIRAプロジェクトを表します
type JiraProject struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Lead        *JiraUser `json:"lead"`
}

// JiraNamed はステータスや課題タイプなど、IDと名前を持つ項目です
type JiraNamed struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subtask bool   `json:"subtask,omitempty"`
}

// JiraIssueRef はキーのみのイシュー参照です
type JiraIssueRef struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key"`
}

// JiraLinkType はリンクタイプです
type JiraLinkType struct {
	Name    string `json:"name"`
	Inward  string `json:"inward,omitempty"`
	Outward string `json:"outward,omitempty"`
}

// JiraIssueLink はイシューリンクです。外向きリンクのみ移行します
type JiraIssueLink struct {
	ID           string        `json:"id,omitempty"`
	Type         JiraLinkType  `json:"type"`
	OutwardIssue *JiraIssueRef `json:"outwardIssue,omitempty"`
	InwardIssue  *JiraIssueRef `json:"inwardIssue,omitempty"`
}

// JiraComment はコメントです
type JiraComment struct {
	ID      string    `json:"id"`
	Author  *JiraUser `json:"author"`
	Body    string    `json:"body"`
	Created string    `json:"created"`
}

// JiraCommentPage はコメント一覧のページです
type JiraCommentPage struct {
	StartAt    int           `json:"startAt"`
	MaxResults int           `json:"maxResults"`
	Total      int           `json:"total"`
	Comments   []JiraComment `json:"comments"`
}

// JiraAttachment は添付ファイルのメタデータです
type JiraAttachment struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Author   *JiraUser `json:"author"`
	Created  string    `json:"created"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mimeType"`
	Content  string    `json:"content"` // ダウンロードURL
}

// JiraIssueFields はイシューのフィールドです
type JiraIssueFields struct {
	Summary     string           `json:"summary"`
	Description string           `json:"description"`
	Status      *JiraNamed       `json:"status"`
	IssueType   *JiraNamed       `json:"issuetype"`
	Assignee    *JiraUser        `json:"assignee"`
	Reporter    *JiraUser        `json:"reporter"`
	Created     string           `json:"created"`
	Updated     string           `json:"updated"`
	DueDate     string           `json:"duedate"`
	Parent      *JiraIssueRef    `json:"parent,omitempty"`
	Subtasks    []JiraIssueRef   `json:"subtasks"`
	IssueLinks  []JiraIssueLink  `json:"issuelinks"`
	Attachment  []JiraAttachment `json:"attachment"`
	Comment     *JiraCommentPage `json:"comment,omitempty"`
}

// JiraIssue はJIRAイシューを表します
type JiraIssue struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields JiraIssueFields `json:"fields"`
}

// StatusName はステータス名を返します
func (i *JiraIssue) StatusName() string {
	if i.Fields.Status == nil {
		return ""
	}
	return i.Fields.Status.Name
}

// TypeName は課題タイプ名を返します
func (i *JiraIssue) TypeName() string {
	if i.Fields.IssueType == nil {
		return ""
	}
	return i.Fields.IssueType.Name
}

// JiraSearchResult はJQL検索のレスポンスです
type JiraSearchResult struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []JiraIssue `json:"issues"`
}

// JiraServerInfo はサーバー情報です
type JiraServerInfo struct {
	BaseURL        string `json:"baseUrl"`
	Version        string `json:"version"`
	DeploymentType string `json:"deploymentType"`
}
