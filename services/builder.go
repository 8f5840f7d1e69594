package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"jiratoshortcut/api"
	"jiratoshortcut/models"
	"jiratoshortcut/utils"
)

// Builder はJIRAのプロジェクトを読み込み、イシューのグラフを構築します
type Builder struct {
	run *RunContext
}

// NewBuilder は新しいビルダーを作成します
func NewBuilder(run *RunContext) *Builder {
	return &Builder{run: run}
}

// Build はプロジェクト1件分のグラフを構築します
// 途中で失敗した場合はグラフを返しません (一部だけの移行はしません)
func (b *Builder) Build(ctx context.Context, projectKey string) (*models.Project, error) {
	src := b.run.Source

	jp, err := src.GetProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	project := models.NewProject(jp.Key, jp.Name, jp.Description, b.member(jp.Lead))
	project.SourceID = jp.ID
	utils.LogInfo("プロジェクト %s を読み込んでいます", project)

	seen := make(map[string]bool)

	epics, err := src.GetEpics(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("エピック取得エラー: %w", err)
	}
	for _, je := range epics {
		if seen[je.Key] {
			continue
		}
		seen[je.Key] = true

		epic, err := b.issue(ctx, models.KindEpic, je)
		if err != nil {
			return nil, err
		}
		project.AddEpic(epic)

		stories, err := src.GetIssues(ctx, projectKey, je.Key)
		if err != nil {
			return nil, fmt.Errorf("エピック %s のストーリー取得エラー: %w", je.Key, err)
		}
		for _, js := range stories {
			if seen[js.Key] || !isStory(js) {
				continue
			}
			seen[js.Key] = true
			story, err := b.story(ctx, js)
			if err != nil {
				return nil, err
			}
			epic.AddStory(story)
		}
	}

	orphans, err := src.GetIssues(ctx, projectKey, "")
	if err != nil {
		return nil, fmt.Errorf("ストーリー取得エラー: %w", err)
	}
	for _, js := range orphans {
		if seen[js.Key] || !isStory(js) {
			continue
		}
		seen[js.Key] = true
		story, err := b.story(ctx, js)
		if err != nil {
			return nil, err
		}
		project.AddOrphan(story)
	}

	project.BuildIndex()
	if err := project.ResolveParents(); err != nil {
		return nil, err
	}

	utils.LogInfo("プロジェクト %s: エピック=%d, ストーリー=%d, イシュー合計=%d",
		project.Key, len(project.Epics), len(project.Stories()), len(project.Index))
	return project, nil
}

func (b *Builder) story(ctx context.Context, js api.JiraIssue) (*models.Issue, error) {
	story, err := b.issue(ctx, models.KindStory, js)
	if err != nil {
		return nil, err
	}

	subtasks, err := b.run.Source.GetSubtasks(ctx, js.Key)
	if err != nil {
		return nil, fmt.Errorf("イシュー %s のサブタスク取得エラー: %w", js.Key, err)
	}
	for _, jt := range subtasks {
		sub, err := b.subtask(ctx, jt)
		if err != nil {
			return nil, err
		}
		story.AddSubtask(sub)
	}
	return story, nil
}

// subtask はサブタスクを読み込みます
// コメント・添付ファイルは移行時にスキップとして記録するためだけに読み込みます (添付ファイルはダウンロードしません)
func (b *Builder) subtask(ctx context.Context, jt api.JiraIssue) (*models.Issue, error) {
	sub, err := b.fields(models.KindSubtask, jt)
	if err != nil {
		return nil, err
	}
	if err := b.comments(ctx, sub); err != nil {
		return nil, err
	}
	for _, ja := range jt.Fields.Attachment {
		att, err := b.attachmentInfo(sub, ja)
		if err != nil {
			return nil, err
		}
		sub.Attachments = append(sub.Attachments, att)
	}
	return sub, nil
}

// issue はエピック・ストーリーの項目に加え、コメント・添付ファイル・ウォッチャー・リンクを読み込みます
func (b *Builder) issue(ctx context.Context, kind models.IssueKind, ji api.JiraIssue) (*models.Issue, error) {
	src := b.run.Source

	issue, err := b.fields(kind, ji)
	if err != nil {
		return nil, err
	}

	watchers, err := src.GetWatchers(ctx, ji.Key)
	if err != nil {
		return nil, fmt.Errorf("イシュー %s のウォッチャー取得エラー: %w", ji.Key, err)
	}
	for i := range watchers {
		if m := b.member(&watchers[i]); m != nil && !containsMember(issue.Followers, m) {
			issue.Followers = append(issue.Followers, m)
		}
	}

	if err := b.comments(ctx, issue); err != nil {
		return nil, err
	}

	for _, ja := range ji.Fields.Attachment {
		att, err := b.attachment(ctx, issue, ja)
		if err != nil {
			return nil, err
		}
		issue.Attachments = append(issue.Attachments, att)
	}

	links, err := src.GetLinks(ctx, ji.Key)
	if err != nil {
		return nil, fmt.Errorf("イシュー %s のリンク取得エラー: %w", ji.Key, err)
	}
	for _, jl := range links {
		if jl.OutwardIssue == nil {
			continue
		}
		issue.AddLink(jl.OutwardIssue.Key, jl.Type.Name)
	}

	return issue, nil
}

// fields はイシューの基本項目だけを変換します
func (b *Builder) fields(kind models.IssueKind, ji api.JiraIssue) (*models.Issue, error) {
	issue := models.NewIssue(kind, ji.Key, ji.Fields.Summary)
	issue.SourceID = ji.ID
	issue.Description = ji.Fields.Description
	issue.IssueType = ji.TypeName()
	issue.Status = ji.StatusName()

	var err error
	if issue.Created, err = models.ParseTimestamp(ji.Fields.Created); err != nil {
		return nil, fmt.Errorf("イシュー %s の作成日時: %w", ji.Key, err)
	}
	if issue.Updated, err = models.ParseTimestamp(ji.Fields.Updated); err != nil {
		return nil, fmt.Errorf("イシュー %s の更新日時: %w", ji.Key, err)
	}
	if ji.Fields.DueDate != "" {
		due, err := models.ParseTimestamp(ji.Fields.DueDate)
		if err != nil {
			return nil, fmt.Errorf("イシュー %s の期限: %w", ji.Key, err)
		}
		issue.Deadline = &due
	}

	issue.Requester = b.member(ji.Fields.Reporter)
	if owner := b.member(ji.Fields.Assignee); owner != nil {
		issue.Owners = []*models.Member{owner}
	}
	return issue, nil
}

func (b *Builder) comments(ctx context.Context, issue *models.Issue) error {
	comments, err := b.run.Source.GetComments(ctx, issue.Key)
	if err != nil {
		return fmt.Errorf("イシュー %s のコメント取得エラー: %w", issue.Key, err)
	}
	for _, jc := range comments {
		created, err := models.ParseTimestamp(jc.Created)
		if err != nil {
			return fmt.Errorf("コメント %s: %w", jc.ID, err)
		}
		issue.Comments = append(issue.Comments, &models.Comment{
			Issue:   issue,
			Key:     jc.ID,
			Author:  b.member(jc.Author),
			Created: created,
			Body:    jc.Body,
		})
	}
	return nil
}

// attachmentInfo は添付ファイルのメタデータだけを変換します
func (b *Builder) attachmentInfo(issue *models.Issue, ja api.JiraAttachment) (*models.Attachment, error) {
	created, err := models.ParseTimestamp(ja.Created)
	if err != nil {
		return nil, fmt.Errorf("添付ファイル %s: %w", ja.Filename, err)
	}
	return &models.Attachment{
		Issue:      issue,
		SourceID:   ja.ID,
		Filename:   ja.Filename,
		Author:     b.member(ja.Author),
		Created:    created,
		Size:       ja.Size,
		MimeType:   ja.MimeType,
		ContentURL: ja.Content,
	}, nil
}

// attachment は添付ファイルの中身を取得して保存します
// 中身が手に入らない場合は LocalPath を空のままにします (移行時に警告してスキップ)
func (b *Builder) attachment(ctx context.Context, issue *models.Issue, ja api.JiraAttachment) (*models.Attachment, error) {
	att, err := b.attachmentInfo(issue, ja)
	if err != nil {
		return nil, err
	}

	store := b.run.Attachments
	if path, ok := store.Find(issue.Key, ja.ID, ja.Filename, ja.Size); ok {
		att.LocalPath = path
		return att, nil
	}

	content, err := b.run.Source.GetAttachmentContent(ctx, ja)
	if errors.Is(err, api.ErrAttachmentUnavailable) {
		utils.LogWarn("イシュー %s の添付ファイル %s の実体がありません", issue.Key, ja.Filename)
		return att, nil
	}
	if err != nil {
		return nil, err
	}

	path, err := store.Save(issue.Key, ja.ID, ja.Filename, content)
	if err != nil {
		return nil, fmt.Errorf("添付ファイル %s の保存エラー: %w", ja.Filename, err)
	}
	att.LocalPath = path
	if att.Size == 0 {
		att.Size = int64(len(content))
	}
	utils.LogDebug("添付ファイルを保存しました: %s (%s)", path, utils.HumanSize(att.Size))
	return att, nil
}

func (b *Builder) member(u *api.JiraUser) *models.Member {
	return b.run.Registry.Member(u.Handle())
}

// isStory はエピックとサブタスクを除外します
func isStory(ji api.JiraIssue) bool {
	// JIRA Cloud ではエピックも parent として返るため、parent の有無では判定しない
	if ji.TypeName() == "Epic" {
		return false
	}
	return ji.Fields.IssueType == nil || !ji.Fields.IssueType.Subtask
}

func containsMember(members []*models.Member, m *models.Member) bool {
	for _, x := range members {
		if x == m {
			return true
		}
	}
	return false
}

// Stats はプロジェクトで使われているステータス・リンクタイプ・ユーザーの集計です
type Stats struct {
	Epics           int
	Stories         int
	Subtasks        int
	Comments        int
	Attachments     int
	AttachmentBytes int64
	Statuses        map[string]int
	LinkTypes       map[string]int
	Users           map[string]int
}

// ComputeStats はグラフを集計します
func ComputeStats(p *models.Project) *Stats {
	s := &Stats{
		Statuses:  make(map[string]int),
		LinkTypes: make(map[string]int),
		Users:     make(map[string]int),
	}
	countUser := func(m *models.Member) {
		if m != nil {
			s.Users[m.Handle]++
		}
	}
	countUser(p.Owner)

	for _, issue := range p.Issues() {
		switch issue.Kind {
		case models.KindEpic:
			s.Epics++
		case models.KindStory:
			s.Stories++
		case models.KindSubtask:
			s.Subtasks++
		}
		s.Statuses[issue.Status]++

		countUser(issue.Requester)
		for _, m := range issue.Owners {
			countUser(m)
		}
		for _, m := range issue.Followers {
			countUser(m)
		}
		for _, c := range issue.Comments {
			s.Comments++
			countUser(c.Author)
		}
		for _, a := range issue.Attachments {
			s.Attachments++
			s.AttachmentBytes += a.Size
		}
		for _, l := range issue.Links {
			s.LinkTypes[l.Type]++
		}
	}
	return s
}

// SortedKeys は集計表のキーを名前順で返します
func SortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
