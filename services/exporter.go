package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jiratoshortcut/api"
	"jiratoshortcut/config"
	"jiratoshortcut/models"
	"jiratoshortcut/utils"
)

// 台帳に記録する処理結果
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// LedgerEntry はエンティティ1件分の移行結果です
type LedgerEntry struct {
	SourceKey     string
	Kind          string
	DestinationID models.ID
	Outcome       string
}

// ExportResult はプロジェクト1件分の移行結果です
type ExportResult struct {
	ProjectKey string
	Entries    []LedgerEntry
	Deleted    int // 置き換えのために削除したShortcut側のエンティティ数
}

// Count は指定した結果のエントリ数を返します
func (r *ExportResult) Count(outcome string) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r *ExportResult) record(kind, key string, id models.ID, outcome string) {
	r.Entries = append(r.Entries, LedgerEntry{SourceKey: key, Kind: kind, DestinationID: id, Outcome: outcome})
}

// Exporter はグラフをShortcutに依存順 (プロジェクト → エピック → ストーリー → サブタスク → リンク) で書き込みます
type Exporter struct {
	run *RunContext
}

// NewExporter は新しいエクスポーターを作成します
func NewExporter(run *RunContext) *Exporter {
	return &Exporter{run: run}
}

// projectExport はプロジェクト1件のエクスポート中の状態です
type projectExport struct {
	*Exporter
	project *models.Project
	result  *ExportResult
	failed  map[*models.Issue]bool
	epics   map[string]models.ID // Shortcut側のエピック名 → ID
	errs    []error
}

// Export はプロジェクトをShortcutに書き込みます
// エンティティ単位の失敗はその配下をスキップして続行し、まとめてエラーとして返します
// プロジェクト自体の失敗はその時点で中断します
func (e *Exporter) Export(ctx context.Context, project *models.Project) (*ExportResult, error) {
	startTime := time.Now()
	defer utils.TrackTime(startTime, fmt.Sprintf("プロジェクト %s のエクスポート", project.Key))

	x := &projectExport{
		Exporter: e,
		project:  project,
		result:   &ExportResult{ProjectKey: project.Key},
		failed:   make(map[*models.Issue]bool),
	}

	if err := x.exportProject(ctx); err != nil {
		x.result.record(EntityProject, project.Key, "", OutcomeFailed)
		return x.result, &EntityError{Kind: EntityProject, Key: project.Key, Err: err}
	}
	x.result.record(EntityProject, project.Key, project.TargetID, OutcomeCreated)

	x.warnDuplicateEpicNames()
	if len(project.Epics) > 0 {
		if err := x.loadEpics(ctx); err != nil {
			return x.result, &EntityError{Kind: EntityProject, Key: project.Key, Err: err}
		}
	}
	for _, epic := range project.Epics {
		x.exportEpic(ctx, epic)
	}
	for _, story := range project.Stories() {
		x.exportStory(ctx, story)
	}
	for _, story := range project.Stories() {
		x.exportLinks(ctx, story)
	}

	utils.LogInfo("プロジェクト %s のエクスポート完了: 作成=%d, 更新=%d, スキップ=%d, 失敗=%d",
		project.Key, x.result.Count(OutcomeCreated), x.result.Count(OutcomeUpdated),
		x.result.Count(OutcomeSkipped), x.result.Count(OutcomeFailed))
	return x.result, errors.Join(x.errs...)
}

func (x *projectExport) fail(kind, key string, err error) {
	utils.LogError("%s %s の移行に失敗しました: %v", kind, key, err)
	x.result.record(kind, key, "", OutcomeFailed)
	x.errs = append(x.errs, &EntityError{Kind: kind, Key: key, Err: err})
}

// exportProject は外部IDが一致する既存プロジェクトを削除してから作り直します
func (x *projectExport) exportProject(ctx context.Context) error {
	p := x.project
	dest := x.run.Destination

	name, ok := x.run.Mapping.MapProject(p.Key)
	if !ok {
		name, ok = x.run.Mapping.MapProject(p.Name)
	}
	if !ok {
		return &UnmappedReferenceError{Section: config.SectionProjects, Ref: p.Key}
	}

	var existing []api.Entity
	if err := getJSON(ctx, dest, &existing, api.ResourceProjects); err != nil {
		return fmt.Errorf("プロジェクト一覧取得エラー: %w", err)
	}
	for _, ep := range existing {
		if ep.ExternalID != p.Key {
			continue
		}
		if err := x.deleteProject(ctx, ep.ID); err != nil {
			return err
		}
	}

	params := api.CreateProjectParams{
		Name:        name,
		Description: p.Description,
		ExternalID:  p.Key,
		TeamID:      x.run.TeamID,
	}
	id, err := postEntity(ctx, dest, params, api.ResourceProjects)
	if err != nil {
		return fmt.Errorf("プロジェクト作成エラー: %w", err)
	}
	p.TargetID = id
	utils.LogInfo("プロジェクト %s を作成しました: %s (id=%s)", p.Key, name, id)
	return nil
}

func (x *projectExport) deleteProject(ctx context.Context, id models.ID) error {
	dest := x.run.Destination

	var stories []api.Entity
	if err := getJSON(ctx, dest, &stories, api.ResourceProjects, id.String(), api.ResourceStories); err != nil {
		return fmt.Errorf("既存ストーリー取得エラー: %w", err)
	}
	for _, s := range stories {
		err := dest.Delete(ctx, api.ResourceStories, s.ID.String())
		if api.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("既存ストーリー %s の削除エラー: %w", s.ID, err)
		}
		x.result.Deleted++
	}
	if err := dest.Delete(ctx, api.ResourceProjects, id.String()); err != nil {
		return fmt.Errorf("既存プロジェクト %s の削除エラー: %w", id, err)
	}
	x.result.Deleted++
	utils.LogInfo("既存プロジェクト %s を削除しました (ストーリー %d 件)", id, len(stories))
	return nil
}

// warnDuplicateEpicNames はエピックを名前で対応付けるため、同名のエピックが1つにまとまることを警告します
func (x *projectExport) warnDuplicateEpicNames() {
	first := make(map[string]string)
	for _, epic := range x.project.Epics {
		if key, dup := first[epic.Name]; dup {
			utils.LogWarn("エピック %s と %s は同じ名前 '%s' のため、Shortcutでは1つのエピックとして更新されます", key, epic.Key, epic.Name)
			continue
		}
		first[epic.Name] = epic.Key
	}
}

func (x *projectExport) loadEpics(ctx context.Context) error {
	var epics []api.Entity
	if err := getJSON(ctx, x.run.Destination, &epics, api.ResourceEpics); err != nil {
		return fmt.Errorf("エピック一覧取得エラー: %w", err)
	}
	x.epics = make(map[string]models.ID, len(epics))
	for _, e := range epics {
		if _, dup := x.epics[e.Name]; !dup {
			x.epics[e.Name] = e.ID
		}
	}
	return nil
}

// exportEpic は名前が一致するエピックがあれば更新し、なければ作成します
func (x *projectExport) exportEpic(ctx context.Context, epic *models.Issue) {
	if err := x.upsertEpic(ctx, epic); err != nil {
		x.failed[epic] = true
		x.fail(EntityEpic, epic.Key, err)
	}
}

func (x *projectExport) upsertEpic(ctx context.Context, epic *models.Issue) error {
	dest := x.run.Destination

	stateID, err := x.run.Registry.Resolve(ctx, KindEpicWorkflowStates, epic.Status)
	if err != nil {
		return err
	}
	requester, err := x.requester(ctx, epic)
	if err != nil {
		return err
	}
	owners, err := x.memberIDs(ctx, epic.Owners)
	if err != nil {
		return err
	}
	followers, err := x.memberIDs(ctx, epic.Followers)
	if err != nil {
		return err
	}

	if id, ok := x.epics[epic.Name]; ok {
		params := api.UpdateEpicParams{
			Name:          epic.Name,
			Description:   epic.Description,
			EpicStateID:   stateID,
			RequestedByID: requester,
			OwnerIDs:      owners,
			FollowerIDs:   followers,
			Deadline:      formatDeadline(epic.Deadline),
		}
		if _, err := dest.Put(ctx, params, api.ResourceEpics, id.String()); err != nil {
			return fmt.Errorf("エピック更新エラー: %w", err)
		}
		epic.TargetID = id
		x.result.record(EntityEpic, epic.Key, id, OutcomeUpdated)
		utils.LogInfo("エピック %s を更新しました (id=%s)", epic.Key, id)
		// エピック自体は更新済みなので、配下のストーリーは続けて移行する
		if err := x.replaceEpicComments(ctx, epic); err != nil {
			x.fail(EntityComment, epic.Key, err)
		}
		return nil
	}

	params := api.CreateEpicParams{
		Name:          epic.Name,
		Description:   epic.Description,
		EpicStateID:   stateID,
		RequestedByID: requester,
		OwnerIDs:      owners,
		FollowerIDs:   followers,
		Deadline:      formatDeadline(epic.Deadline),
		CreatedAt:     models.FormatTimestamp(epic.Created),
		UpdatedAt:     models.FormatTimestamp(epic.Updated),
		ExternalID:    externalID(epic),
	}
	id, err := postEntity(ctx, dest, params, api.ResourceEpics)
	if err != nil {
		return fmt.Errorf("エピック作成エラー: %w", err)
	}
	epic.TargetID = id
	x.epics[epic.Name] = id
	x.result.record(EntityEpic, epic.Key, id, OutcomeCreated)
	utils.LogInfo("エピック %s を作成しました (id=%s)", epic.Key, id)

	for _, c := range epic.Comments {
		x.exportComment(ctx, c, api.ResourceEpics, id.String(), api.ResourceComments)
	}
	return nil
}

// replaceEpicComments は既存エピックのコメントをすべて削除してから作り直します
// Shortcut側だけで編集されたコメントは失われます
func (x *projectExport) replaceEpicComments(ctx context.Context, epic *models.Issue) error {
	dest := x.run.Destination
	id := epic.TargetID.String()

	var existing []api.Entity
	if err := getJSON(ctx, dest, &existing, api.ResourceEpics, id, api.ResourceComments); err != nil {
		return fmt.Errorf("エピックコメント取得エラー: %w", err)
	}
	for _, c := range existing {
		if err := dest.Delete(ctx, api.ResourceEpics, id, api.ResourceComments, c.ID.String()); err != nil {
			return fmt.Errorf("エピックコメント %s の削除エラー: %w", c.ID, err)
		}
		x.result.Deleted++
	}
	for _, c := range epic.Comments {
		x.exportComment(ctx, c, api.ResourceEpics, id, api.ResourceComments)
	}
	return nil
}

// exportStory はパラメータを確定させてから添付ファイルをアップロードしてストーリーを作成し、コメントとサブタスクを続けて作成します
func (x *projectExport) exportStory(ctx context.Context, story *models.Issue) {
	if story.Epic != nil && x.failed[story.Epic] {
		x.skipStory(story, fmt.Sprintf("エピック %s の移行に失敗したため", story.Epic.Key))
		return
	}

	params, err := x.storyParams(ctx, story)
	if err != nil {
		x.failed[story] = true
		x.fail(EntityStory, story.Key, err)
		return
	}
	params.FileIDs = x.uploadAttachments(ctx, story)

	id, err := postEntity(ctx, x.run.Destination, params, api.ResourceStories)
	if err != nil {
		x.failed[story] = true
		x.fail(EntityStory, story.Key, fmt.Errorf("ストーリー作成エラー: %w", err))
		return
	}
	story.TargetID = id
	x.result.record(EntityStory, story.Key, id, OutcomeCreated)
	utils.LogInfo("ストーリー %s を作成しました (id=%s)", story.Key, id)

	for _, c := range story.Comments {
		x.exportComment(ctx, c, api.ResourceStories, id.String(), api.ResourceComments)
	}
	for _, sub := range story.Subtasks {
		x.exportSubtask(ctx, sub)
	}
}

func (x *projectExport) skipStory(story *models.Issue, reason string) {
	utils.LogWarn("ストーリー %s をスキップします: %s", story.Key, reason)
	x.failed[story] = true
	x.result.record(EntityStory, story.Key, "", OutcomeSkipped)
	for _, sub := range story.Subtasks {
		x.result.record(EntitySubtask, sub.Key, "", OutcomeSkipped)
	}
}

// storyParams はストーリー作成のパラメータを組み立てます
// 参照先 (プロジェクト・エピック) がまだ作成されていない場合はエラーにします
func (x *projectExport) storyParams(ctx context.Context, story *models.Issue) (*api.CreateStoryParams, error) {
	if story.Project == nil || story.Project.TargetID.IsZero() {
		return nil, &MissingDestinationReferenceError{Entity: story.String(), Field: "project_id", Ref: projectKey(story)}
	}
	var epicID models.ID
	if story.Epic != nil {
		if story.Epic.TargetID.IsZero() {
			return nil, &MissingDestinationReferenceError{Entity: story.String(), Field: "epic_id", Ref: story.Epic.Key}
		}
		epicID = story.Epic.TargetID
	}

	stateID, err := x.run.Registry.Resolve(ctx, KindWorkflowStates, story.Status)
	if err != nil {
		return nil, err
	}
	requester, err := x.requester(ctx, story)
	if err != nil {
		return nil, err
	}
	owners, err := x.memberIDs(ctx, story.Owners)
	if err != nil {
		return nil, err
	}
	followers, err := x.memberIDs(ctx, story.Followers)
	if err != nil {
		return nil, err
	}

	params := &api.CreateStoryParams{
		Name:            story.Name,
		Description:     story.Description,
		WorkflowStateID: stateID,
		RequestedByID:   requester,
		ProjectID:       story.Project.TargetID,
		EpicID:          epicID,
		OwnerIDs:        owners,
		FollowerIDs:     followers,
		Deadline:        formatDeadline(story.Deadline),
		CreatedAt:       models.FormatTimestamp(story.Created),
		UpdatedAt:       models.FormatTimestamp(story.Updated),
		ExternalID:      externalID(story),
	}
	if storyType, ok := x.run.Mapping.MapStoryType(story.IssueType); ok {
		params.StoryType = storyType
	}
	return params, nil
}

// uploadAttachments は保存済みの添付ファイルをアップロードし、ファイルIDを返します
// 失敗した添付ファイルは記録してスキップし、ストーリーは作成します
func (x *projectExport) uploadAttachments(ctx context.Context, story *models.Issue) []models.ID {
	var ids []models.ID
	for _, att := range story.Attachments {
		key := story.Key + "/" + att.Filename
		if att.LocalPath == "" {
			utils.LogWarn("添付ファイル %s は取得できなかったためスキップします", key)
			x.result.record(EntityAttachment, key, "", OutcomeSkipped)
			continue
		}
		content, err := x.run.Attachments.Load(att.LocalPath)
		if err != nil {
			x.fail(EntityAttachment, key, err)
			continue
		}
		id, err := x.run.Destination.UploadFile(ctx, att.Filename, content, att.MimeType)
		if err != nil {
			x.fail(EntityAttachment, key, err)
			continue
		}
		att.TargetID = id
		ids = append(ids, id)
		x.result.record(EntityAttachment, key, id, OutcomeCreated)
		utils.LogInfo("添付ファイル %s をアップロードしました (%s)", key, utils.HumanSize(int64(len(content))))
	}
	return ids
}

// exportComment は path (epics/{id}/comments または stories/{id}/comments) にコメントを作成します
func (x *projectExport) exportComment(ctx context.Context, c *models.Comment, path ...string) {
	key := c.Issue.Key + "#" + c.Key
	if c.Author == nil {
		x.fail(EntityComment, key, &UnmappedReferenceError{Section: config.SectionUsers, Ref: ""})
		return
	}
	author, err := x.run.Registry.MemberID(ctx, c.Author)
	if err != nil {
		x.fail(EntityComment, key, err)
		return
	}
	params := api.CreateCommentParams{
		AuthorID:   author,
		Text:       c.Body,
		CreatedAt:  models.FormatTimestamp(c.Created),
		ExternalID: c.Key,
	}
	id, err := postEntity(ctx, x.run.Destination, params, path...)
	if err != nil {
		x.fail(EntityComment, key, fmt.Errorf("コメント作成エラー: %w", err))
		return
	}
	c.TargetID = id
	x.result.record(EntityComment, key, id, OutcomeCreated)
}

// exportSubtask はサブタスクを親ストーリーのタスクとして作成します
func (x *projectExport) exportSubtask(ctx context.Context, sub *models.Issue) {
	x.skipSubtaskContent(sub)

	params, err := x.taskParams(ctx, sub)
	if err != nil {
		x.fail(EntitySubtask, sub.Key, err)
		return
	}
	id, err := postEntity(ctx, x.run.Destination, params, api.ResourceStories, sub.Parent.TargetID.String(), api.ResourceTasks)
	if err != nil {
		x.fail(EntitySubtask, sub.Key, fmt.Errorf("タスク作成エラー: %w", err))
		return
	}
	sub.TargetID = id
	x.result.record(EntitySubtask, sub.Key, id, OutcomeCreated)
}

// skipSubtaskContent はタスクに移行できないサブタスクのコメント・添付ファイルをスキップとして記録します
func (x *projectExport) skipSubtaskContent(sub *models.Issue) {
	if len(sub.Comments) == 0 && len(sub.Attachments) == 0 {
		return
	}
	utils.LogWarn("サブタスク %s のコメント %d 件・添付ファイル %d 件はShortcutのタスクに移行できないためスキップします",
		sub.Key, len(sub.Comments), len(sub.Attachments))
	for _, c := range sub.Comments {
		x.result.record(EntityComment, sub.Key+"#"+c.Key, "", OutcomeSkipped)
	}
	for _, att := range sub.Attachments {
		x.result.record(EntityAttachment, sub.Key+"/"+att.Filename, "", OutcomeSkipped)
	}
}

func (x *projectExport) taskParams(ctx context.Context, sub *models.Issue) (*api.CreateTaskParams, error) {
	if sub.Parent == nil || sub.Parent.TargetID.IsZero() {
		return nil, &MissingDestinationReferenceError{Entity: sub.String(), Field: "story_id", Ref: sub.ParentKey}
	}
	complete, ok := x.run.Mapping.MapSubtaskStatus(sub.Status)
	if !ok {
		utils.LogWarn("サブタスク %s のステータス '%s' はマッピングがないため未完了として作成します", sub.Key, sub.Status)
	}
	owners, err := x.memberIDs(ctx, sub.Owners)
	if err != nil {
		return nil, err
	}
	return &api.CreateTaskParams{
		Description: sub.Name,
		Complete:    complete,
		OwnerIDs:    owners,
		CreatedAt:   models.FormatTimestamp(sub.Created),
		UpdatedAt:   models.FormatTimestamp(sub.Updated),
		ExternalID:  externalID(sub),
	}, nil
}

// exportLinks はリンクタイプのマッピングがあるストーリー間リンクを作成します
// プロジェクト外へのリンク・マッピングのないタイプ・エピックやサブタスクとのリンクはスキップします
func (x *projectExport) exportLinks(ctx context.Context, story *models.Issue) {
	if story.TargetID.IsZero() {
		return
	}
	for _, link := range story.Links {
		key := story.Key + "->" + link.Target.Key()

		verb, ok := x.run.Mapping.MapLinkType(link.Type)
		if !ok {
			utils.LogDebug("リンク %s (%s) はマッピングがないためスキップします", key, link.Type)
			continue
		}

		target, err := link.TargetIssue()
		var unresolved *models.UnresolvedLinkError
		if errors.As(err, &unresolved) && unresolved.External {
			utils.LogWarn("リンク %s はプロジェクト外のイシューを指すためスキップします", key)
			x.result.record(EntityLink, key, "", OutcomeSkipped)
			continue
		}
		if err != nil {
			x.fail(EntityLink, key, err)
			continue
		}
		if target.Kind != models.KindStory || target.TargetID.IsZero() {
			x.result.record(EntityLink, key, "", OutcomeSkipped)
			continue
		}

		params := api.CreateStoryLinkParams{
			SubjectID: story.TargetID,
			ObjectID:  target.TargetID,
			Verb:      verb,
		}
		id, err := postEntity(ctx, x.run.Destination, params, api.ResourceStoryLinks)
		if err != nil {
			x.fail(EntityLink, key, fmt.Errorf("ストーリーリンク作成エラー: %w", err))
			continue
		}
		x.result.record(EntityLink, key, id, OutcomeCreated)
	}
}

// requester は依頼者のIDを返します。報告者がいない場合はプロジェクトのリーダーを使います
func (x *projectExport) requester(ctx context.Context, issue *models.Issue) (models.ID, error) {
	m := issue.Requester
	if m == nil {
		m = x.project.Owner
	}
	if m == nil {
		return "", &UnmappedReferenceError{Section: config.SectionUsers, Ref: ""}
	}
	return x.run.Registry.MemberID(ctx, m)
}

func (x *projectExport) memberIDs(ctx context.Context, members []*models.Member) ([]models.ID, error) {
	var ids []models.ID
	seen := make(map[models.ID]bool)
	for _, m := range members {
		id, err := x.run.Registry.MemberID(ctx, m)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// externalID はShortcut側で元のイシューを識別するための外部IDです
func externalID(issue *models.Issue) string {
	return "JIRA_" + issue.Key
}

func projectKey(issue *models.Issue) string {
	if issue.Project == nil {
		return ""
	}
	return issue.Project.Key
}

func formatDeadline(t *time.Time) string {
	if t == nil {
		return ""
	}
	return models.FormatTimestamp(*t)
}

func getJSON(ctx context.Context, dest DestinationClient, out interface{}, path ...string) error {
	body, err := dest.Get(ctx, path...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	return nil
}

func postEntity(ctx context.Context, dest DestinationClient, body interface{}, path ...string) (models.ID, error) {
	resp, err := dest.Post(ctx, body, path...)
	if err != nil {
		return "", err
	}
	var entity api.Entity
	if err := json.Unmarshal(resp, &entity); err != nil {
		return "", fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	if entity.ID.IsZero() {
		return "", fmt.Errorf("レスポンスにIDがありません")
	}
	return entity.ID, nil
}
