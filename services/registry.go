package services

import (
	"context"
	"fmt"

	"jiratoshortcut/api"
	"jiratoshortcut/config"
	"jiratoshortcut/models"
	"jiratoshortcut/utils"
)

// Registry が解決する参照の種類
const (
	KindMembers            = "members"
	KindWorkflowStates     = "workflow-states"
	KindEpicWorkflowStates = "epic-workflow-states"
)

// Registry はJIRA側の参照 (ユーザー・ステータス) をShortcutのIDに解決し、結果をキャッシュします
// 種類ごとに最初の解決時だけ一覧を取得し、以降はネットワークにアクセスしません
type Registry struct {
	dest     DestinationClient
	mapping  MappingStore
	workflow string

	tables  map[string]map[string]models.ID
	members map[string]*models.Member
}

// NewRegistry は新しいレジストリを作成します
func NewRegistry(dest DestinationClient, mapping MappingStore, workflow string) *Registry {
	return &Registry{
		dest:     dest,
		mapping:  mapping,
		workflow: workflow,
		tables:   make(map[string]map[string]models.ID),
		members:  make(map[string]*models.Member),
	}
}

// Resolve はマッピングで変換した名前からShortcutのIDを返します
func (r *Registry) Resolve(ctx context.Context, kind, sourceRef string) (models.ID, error) {
	name, err := r.translate(kind, sourceRef)
	if err != nil {
		return "", err
	}

	table, err := r.table(ctx, kind)
	if err != nil {
		return "", err
	}

	id, ok := table[name]
	if !ok {
		return "", &UnknownDestinationNameError{Kind: kind, Name: name}
	}
	return id, nil
}

// Member はハンドルに対応するメンバーを返します
// 同じハンドルには常に同じインスタンスを返します。空のハンドルはnilです
func (r *Registry) Member(handle string) *models.Member {
	if handle == "" {
		return nil
	}
	if m, ok := r.members[handle]; ok {
		return m
	}
	m := &models.Member{Handle: handle}
	r.members[handle] = m
	return m
}

// MemberID はメンバーのShortcut IDを解決し、メンバーに記録します
func (r *Registry) MemberID(ctx context.Context, m *models.Member) (models.ID, error) {
	if !m.ID.IsZero() {
		return m.ID, nil
	}
	id, err := r.Resolve(ctx, KindMembers, m.Handle)
	if err != nil {
		return "", err
	}
	m.ID = id
	return id, nil
}

// Reset はキャッシュとメンバーの対応をすべて破棄します
func (r *Registry) Reset() {
	r.tables = make(map[string]map[string]models.ID)
	r.members = make(map[string]*models.Member)
}

func (r *Registry) translate(kind, sourceRef string) (string, error) {
	var (
		name    string
		ok      bool
		section string
	)
	switch kind {
	case KindMembers:
		name, ok = r.mapping.MapUser(sourceRef)
		section = config.SectionUsers
	case KindWorkflowStates:
		name, ok = r.mapping.MapStatus(sourceRef)
		section = config.SectionStatuses
	case KindEpicWorkflowStates:
		name, ok = r.mapping.MapEpicStatus(sourceRef)
		section = config.SectionEpicStatuses
	default:
		return "", fmt.Errorf("未知の参照種類です: %s", kind)
	}
	if !ok {
		return "", &UnmappedReferenceError{Section: section, Ref: sourceRef}
	}
	return name, nil
}

func (r *Registry) table(ctx context.Context, kind string) (map[string]models.ID, error) {
	if t, ok := r.tables[kind]; ok {
		return t, nil
	}

	var (
		t   map[string]models.ID
		err error
	)
	switch kind {
	case KindMembers:
		t, err = r.loadMembers(ctx)
	case KindWorkflowStates:
		t, err = r.loadWorkflowStates(ctx)
	case KindEpicWorkflowStates:
		t, err = r.loadEpicWorkflowStates(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s の取得エラー: %w", kind, err)
	}

	utils.LogDebug("%s を読み込みました: %d 件", kind, len(t))
	r.tables[kind] = t
	return t, nil
}

func (r *Registry) loadMembers(ctx context.Context) (map[string]models.ID, error) {
	var members []api.ShortcutMember
	if err := getJSON(ctx, r.dest, &members, api.ResourceMembers); err != nil {
		return nil, err
	}
	t := make(map[string]models.ID, len(members))
	for _, m := range members {
		t[m.Profile.MentionName] = m.ID
	}
	return t, nil
}

func (r *Registry) loadWorkflowStates(ctx context.Context) (map[string]models.ID, error) {
	var workflows []api.Workflow
	if err := getJSON(ctx, r.dest, &workflows, api.ResourceWorkflows); err != nil {
		return nil, err
	}
	if len(workflows) == 0 {
		return nil, fmt.Errorf("ワークフローがありません")
	}

	selected := &workflows[0]
	if r.workflow != "" {
		selected = nil
		for i := range workflows {
			if workflows[i].Name == r.workflow {
				selected = &workflows[i]
				break
			}
		}
		if selected == nil {
			return nil, &UnknownDestinationNameError{Kind: api.ResourceWorkflows, Name: r.workflow}
		}
	}

	return stateTable(selected.States), nil
}

func (r *Registry) loadEpicWorkflowStates(ctx context.Context) (map[string]models.ID, error) {
	var wf api.EpicWorkflow
	if err := getJSON(ctx, r.dest, &wf, api.ResourceEpicWorkflow); err != nil {
		return nil, err
	}
	return stateTable(wf.EpicStates), nil
}

func stateTable(states []api.WorkflowState) map[string]models.ID {
	t := make(map[string]models.ID, len(states))
	for _, s := range states {
		t[s.Name] = s.ID
	}
	return t
}
