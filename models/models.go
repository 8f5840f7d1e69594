package models

import (
	"fmt"
	"time"
)

// IssueKind はイシューの種類(エピック/ストーリー/サブタスク)を表します
type IssueKind int

const (
	KindEpic IssueKind = iota
	KindStory
	KindSubtask
)

// String はログやエラー表示用の種類名を返します
func (k IssueKind) String() string {
	switch k {
	case KindEpic:
		return "epic"
	case KindStory:
		return "story"
	case KindSubtask:
		return "subtask"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Member はJIRAユーザーとShortcutメンバーの対応を表します
// 同じハンドルに対しては実行中ずっと同じインスタンスが使われます (Registry が管理)
type Member struct {
	Handle string // JIRAユーザーキー
	ID     ID     // ShortcutメンバーID (解決前は空)
}

// Project はJIRAプロジェクト1件分のグラフのルートです
type Project struct {
	Key         string
	SourceID    string
	Name        string
	Description string
	Owner       *Member

	Epics   []*Issue // エピック (各エピックのStoriesに子ストーリー)
	Orphans []*Issue // エピックに属さないストーリー

	// Index はソースキー → イシューの索引です。BuildIndex で一度だけ構築されます
	Index map[string]*Issue

	TargetID ID
}

// Issue はエピック・ストーリー・サブタスク共通のノードです
type Issue struct {
	Kind IssueKind

	Key         string
	SourceID    string
	Name        string
	Description string
	IssueType   string // JIRAの課題タイプ名
	Status      string // JIRAのステータス名
	Created     time.Time
	Updated     time.Time
	Deadline    *time.Time

	Requester *Member
	Owners    []*Member
	Followers []*Member

	Comments    []*Comment
	Attachments []*Attachment
	Links       []*Link

	Project *Project

	// エピックのみ
	Stories []*Issue

	// ストーリーのみ
	Epic     *Issue
	Subtasks []*Issue

	// サブタスクのみ
	ParentKey string
	Parent    *Issue

	TargetID ID
}

// Comment はイシューのコメントです
type Comment struct {
	Issue    *Issue
	Key      string // 外部ID (再実行時の突き合わせ用)
	Author   *Member
	Created  time.Time
	Body     string
	TargetID ID
}

// Attachment はイシューの添付ファイルです
type Attachment struct {
	Issue      *Issue
	SourceID   string
	Filename   string
	Author     *Member
	Created    time.Time
	Size       int64
	MimeType   string
	ContentURL string
	LocalPath  string // ダウンロード済みファイルのパス (未取得なら空)
	TargetID   ID
}

// NewProject はプロジェクトノードを作成します
func NewProject(key, name, description string, owner *Member) *Project {
	return &Project{
		Key:         key,
		Name:        name,
		Description: description,
		Owner:       owner,
	}
}

// String はログ表示用の文字列を返します
func (p *Project) String() string {
	return fmt.Sprintf("<Project %s '%s'>", p.Key, p.Name)
}

// AddEpic はエピックをプロジェクトに追加します
func (p *Project) AddEpic(epic *Issue) {
	epic.Project = p
	for _, s := range epic.Stories {
		s.setProject(p)
	}
	p.Epics = append(p.Epics, epic)
}

// AddOrphan はエピックに属さないストーリーをプロジェクトに追加します
func (p *Project) AddOrphan(story *Issue) {
	story.setProject(p)
	p.Orphans = append(p.Orphans, story)
}

// Issues はプロジェクト内の全イシューを依存順 (エピック → ストーリー → サブタスク) で返します
func (p *Project) Issues() []*Issue {
	var all []*Issue
	all = append(all, p.Epics...)
	for _, s := range p.Stories() {
		all = append(all, s)
		all = append(all, s.Subtasks...)
	}
	return all
}

// Stories はエピック配下のストーリーとエピックなしのストーリーを順に返します
func (p *Project) Stories() []*Issue {
	var stories []*Issue
	for _, e := range p.Epics {
		stories = append(stories, e.Stories...)
	}
	return append(stories, p.Orphans...)
}

// BuildIndex は全イシューからソースキーの索引を構築します
func (p *Project) BuildIndex() {
	index := make(map[string]*Issue)
	for _, i := range p.Issues() {
		index[i.Key] = i
	}
	p.Index = index
}

// ResolveParents はサブタスクの親ポインタを索引から解決します
func (p *Project) ResolveParents() error {
	if p.Index == nil {
		return fmt.Errorf("プロジェクト %s の索引が未構築です", p.Key)
	}
	for _, i := range p.Index {
		if i.Kind != KindSubtask || i.Parent != nil {
			continue
		}
		parent, ok := p.Index[i.ParentKey]
		if !ok {
			return fmt.Errorf("サブタスク %s の親 %s が見つかりません", i.Key, i.ParentKey)
		}
		i.Parent = parent
	}
	return nil
}

// Lookup はソースキーからイシューを返します
func (p *Project) Lookup(key string) (*Issue, bool) {
	i, ok := p.Index[key]
	return i, ok
}

// NewIssue は指定した種類のイシューを作成します
func NewIssue(kind IssueKind, key, name string) *Issue {
	return &Issue{Kind: kind, Key: key, Name: name}
}

// String はログ表示用の文字列を返します
func (i *Issue) String() string {
	return fmt.Sprintf("<%s %s '%s'>", i.Kind, i.Key, i.Name)
}

// AddStory はストーリーをエピックに追加し、逆参照も設定します
func (i *Issue) AddStory(story *Issue) {
	story.Epic = i
	if i.Project != nil {
		story.setProject(i.Project)
	}
	i.Stories = append(i.Stories, story)
}

// AddSubtask はサブタスクをストーリーに追加します
// 親ポインタは ResolveParents で索引から解決されます
func (i *Issue) AddSubtask(sub *Issue) {
	sub.ParentKey = i.Key
	if i.Project != nil {
		sub.Project = i.Project
	}
	i.Subtasks = append(i.Subtasks, sub)
}

// AddLink はこのイシューから targetKey への遅延リンクを追加します
func (i *Issue) AddLink(targetKey, linkType string) *Link {
	link := NewLink(i, targetKey, linkType)
	i.Links = append(i.Links, link)
	return link
}

func (i *Issue) setProject(p *Project) {
	i.Project = p
	for _, s := range i.Subtasks {
		s.Project = p
	}
}
