package api

import "jiratoshortcut/models"

// Shortcut API のリソース名
const (
	ResourceProjects     = "projects"
	ResourceEpics        = "epics"
	ResourceStories      = "stories"
	ResourceComments     = "comments"
	ResourceTasks        = "tasks"
	ResourceStoryLinks   = "story-links"
	ResourceMembers      = "members"
	ResourceWorkflows    = "workflows"
	ResourceEpicWorkflow = "epic-workflow"
	ResourceFiles        = "files"
)

// Entity はレスポンスからIDだけを取り出すための型です
type Entity struct {
	ID         models.ID `json:"id"`
	Name       string    `json:"name,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
}

// MemberProfile はメンバーのプロフィールです
type MemberProfile struct {
	MentionName string `json:"mention_name"`
	Name        string `json:"name"`
}

// ShortcutMember はワークスペースのメンバーです
type ShortcutMember struct {
	ID      models.ID     `json:"id"`
	Profile MemberProfile `json:"profile"`
}

// WorkflowState はストーリーのワークフロー状態です
type WorkflowState struct {
	ID   models.ID `json:"id"`
	Name string    `json:"name"`
	Type string    `json:"type"`
}

// Workflow はストーリーのワークフローです
type Workflow struct {
	ID     models.ID       `json:"id"`
	Name   string          `json:"name"`
	States []WorkflowState `json:"states"`
}

// EpicWorkflow はエピックのワークフローです
type EpicWorkflow struct {
	ID         models.ID       `json:"id"`
	EpicStates []WorkflowState `json:"epic_states"`
}

// CreateProjectParams はプロジェクト作成のパラメータです
type CreateProjectParams struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ExternalID  string    `json:"external_id"`
	TeamID      models.ID `json:"team_id,omitempty"`
}

// CreateEpicParams はエピック作成のパラメータです
type CreateEpicParams struct {
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	EpicStateID   models.ID   `json:"epic_state_id"`
	RequestedByID models.ID   `json:"requested_by_id"`
	OwnerIDs      []models.ID `json:"owner_ids,omitempty"`
	FollowerIDs   []models.ID `json:"follower_ids,omitempty"`
	Deadline      string      `json:"deadline,omitempty"`
	CreatedAt     string      `json:"created_at,omitempty"`
	UpdatedAt     string      `json:"updated_at,omitempty"`
	ExternalID    string      `json:"external_id"`
}

// UpdateEpicParams はエピック更新のパラメータです
// created_at / updated_at / external_id は作成後に変更できないため含めません
type UpdateEpicParams struct {
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	EpicStateID   models.ID   `json:"epic_state_id"`
	RequestedByID models.ID   `json:"requested_by_id"`
	OwnerIDs      []models.ID `json:"owner_ids,omitempty"`
	FollowerIDs   []models.ID `json:"follower_ids,omitempty"`
	Deadline      string      `json:"deadline,omitempty"`
}

// CreateStoryParams はストーリー作成のパラメータです
type CreateStoryParams struct {
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	StoryType       string      `json:"story_type,omitempty"`
	WorkflowStateID models.ID   `json:"workflow_state_id"`
	RequestedByID   models.ID   `json:"requested_by_id"`
	ProjectID       models.ID   `json:"project_id"`
	EpicID          models.ID   `json:"epic_id,omitempty"`
	OwnerIDs        []models.ID `json:"owner_ids,omitempty"`
	FollowerIDs     []models.ID `json:"follower_ids,omitempty"`
	FileIDs         []models.ID `json:"file_ids,omitempty"`
	Deadline        string      `json:"deadline,omitempty"`
	CreatedAt       string      `json:"created_at,omitempty"`
	UpdatedAt       string      `json:"updated_at,omitempty"`
	ExternalID      string      `json:"external_id"`
}

// CreateCommentParams はコメント作成のパラメータです
type CreateCommentParams struct {
	AuthorID   models.ID `json:"author_id"`
	Text       string    `json:"text"`
	CreatedAt  string    `json:"created_at,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
}

// CreateTaskParams はストーリー配下のタスク(サブタスク)作成のパラメータです
type CreateTaskParams struct {
	Description string      `json:"description"`
	Complete    bool        `json:"complete"`
	OwnerIDs    []models.ID `json:"owner_ids,omitempty"`
	CreatedAt   string      `json:"created_at,omitempty"`
	UpdatedAt   string      `json:"updated_at,omitempty"`
	ExternalID  string      `json:"external_id"`
}

// CreateStoryLinkParams はストーリーリンク作成のパラメータです
type CreateStoryLinkParams struct {
	SubjectID models.ID `json:"subject_id"`
	ObjectID  models.ID `json:"object_id"`
	Verb      string    `json:"verb"`
}
