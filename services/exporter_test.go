package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiratoshortcut/api"
	"jiratoshortcut/config"
	"jiratoshortcut/models"
	"jiratoshortcut/utils"
)

// migrateOnce は新しい実行コンテキストでDEMOを読み込み、エクスポートします
func migrateOnce(t *testing.T, src SourceClient, dest DestinationClient, mapping MappingStore) (*models.Project, *ExportResult, error) {
	t.Helper()
	run := newTestRun(t, src, dest, mapping)
	project, err := NewBuilder(run).Build(context.Background(), "DEMO")
	require.NoError(t, err)
	result, err := NewExporter(run).Export(context.Background(), project)
	return project, result, err
}

func TestExportCreatePath(t *testing.T) {
	dest := newFakeDestination()
	project, result, err := migrateOnce(t, demoSource(), dest, demoMapping())
	require.NoError(t, err)

	projects := dest.list(api.ResourceProjects)
	require.Len(t, projects, 1)
	assert.Equal(t, "Demo", projects[0]["name"])
	assert.Equal(t, "DEMO", projects[0]["external_id"])

	epics := dest.list(api.ResourceEpics)
	require.Len(t, epics, 1)
	epic := epics[0]
	assert.Equal(t, "E1", epic["name"])
	assert.Equal(t, "JIRA_DEMO-1", epic["external_id"])
	assert.EqualValues(t, 700, epic["epic_state_id"])
	assert.Equal(t, "uuid-alice", epic["requested_by_id"])
	assert.Equal(t, "2020-03-04T05:06:07Z", epic["created_at"])

	stories := dest.list(api.ResourceStories)
	require.Len(t, stories, 1)
	story := stories[0]
	assert.Equal(t, "S1", story["name"])
	assert.Equal(t, fmt.Sprint(epic["id"]), fmt.Sprint(story["epic_id"]))
	assert.Equal(t, fmt.Sprint(projects[0]["id"]), fmt.Sprint(story["project_id"]))
	assert.EqualValues(t, 500, story["workflow_state_id"])
	assert.Equal(t, "feature", story["story_type"])
	assert.Equal(t, []interface{}{"uuid-alice"}, story["owner_ids"])
	assert.Equal(t, "2020-03-10T00:00:00Z", story["deadline"])
	assert.Equal(t, "JIRA_DEMO-2", story["external_id"])

	epicComments := dest.list(api.ResourceEpics, fmt.Sprint(epic["id"]), api.ResourceComments)
	require.Len(t, epicComments, 2)
	assert.Equal(t, "epic note", epicComments[0]["text"])
	assert.Equal(t, "500", epicComments[0]["external_id"])

	storyComments := dest.list(api.ResourceStories, fmt.Sprint(story["id"]), api.ResourceComments)
	require.Len(t, storyComments, 1)
	assert.Equal(t, "uuid-alice", storyComments[0]["author_id"])

	assert.False(t, project.TargetID.IsZero())
	assert.Equal(t, fmt.Sprint(story["id"]), project.Epics[0].Stories[0].TargetID.String())
	assert.Equal(t, 0, result.Count(OutcomeFailed))
	assert.Zero(t, result.Count(OutcomeUpdated))
}

func TestExportRerunUpdatesEpicInPlace(t *testing.T) {
	dest := newFakeDestination()
	src := demoSource()

	_, _, err := migrateOnce(t, src, dest, demoMapping())
	require.NoError(t, err)
	firstEpic := dest.list(api.ResourceEpics)[0]

	// Shortcut側だけで追加されたコメントは再実行で消える
	epicPath := []string{api.ResourceEpics, fmt.Sprint(firstEpic["id"]), api.ResourceComments}
	dest.seed(epicPath[0]+"/"+epicPath[1]+"/"+epicPath[2], map[string]interface{}{"text": "stale"})

	project, result, err := migrateOnce(t, src, dest, demoMapping())
	require.NoError(t, err)

	epics := dest.list(api.ResourceEpics)
	require.Len(t, epics, 1, "the epic is correlated by name and updated")
	assert.Equal(t, fmt.Sprint(firstEpic["id"]), fmt.Sprint(epics[0]["id"]))
	assert.Equal(t, project.Epics[0].TargetID.String(), fmt.Sprint(epics[0]["id"]))
	assert.Equal(t, 1, dest.count("PUT "+api.ResourceEpics+"/"+fmt.Sprint(firstEpic["id"])))

	comments := dest.list(epicPath...)
	require.Len(t, comments, 2, "exactly the source comments remain")
	for _, c := range comments {
		assert.NotEqual(t, "stale", c["text"])
	}

	assert.Len(t, dest.list(api.ResourceProjects), 1, "the previous project was replaced")
	assert.Len(t, dest.list(api.ResourceStories), 1, "stories of the replaced project were deleted")
	assert.Equal(t, 1, result.Count(OutcomeUpdated))
	assert.Equal(t, 5, result.Deleted, "story, project and three epic comments")
}

func TestExportReplacesProjectByExternalID(t *testing.T) {
	dest := newFakeDestination()
	oldID := dest.seed(api.ResourceProjects, map[string]interface{}{"name": "Demo", "external_id": "DEMO"})
	dest.seed(api.ResourceStories, map[string]interface{}{"name": "old", "project_id": 1001})
	otherID := dest.seed(api.ResourceProjects, map[string]interface{}{"name": "Other", "external_id": "OPS"})
	require.Equal(t, models.ID("1001"), oldID)

	_, _, err := migrateOnce(t, demoSource(), dest, demoMapping())
	require.NoError(t, err)

	assert.Equal(t, 1, dest.count("DELETE "+api.ResourceProjects+"/"+oldID.String()))
	assert.Zero(t, dest.count("DELETE "+api.ResourceProjects+"/"+otherID.String()))
	for _, s := range dest.list(api.ResourceStories) {
		assert.NotEqual(t, "old", s["name"])
	}
	assert.Len(t, dest.list(api.ResourceProjects), 2)
}

func TestExportUnmappedProjectIsFatal(t *testing.T) {
	dest := newFakeDestination()
	mapping := config.NewMapping(map[string]map[string]string{config.SectionUsers: {"alice": "alice"}})
	_, result, err := migrateOnce(t, demoSource(), dest, mapping)

	var entityErr *EntityError
	require.True(t, errors.As(err, &entityErr))
	assert.Equal(t, EntityProject, entityErr.Kind)
	var unmapped *UnmappedReferenceError
	assert.True(t, errors.As(err, &unmapped))
	assert.Zero(t, dest.count("POST "+api.ResourceProjects))
	assert.Zero(t, dest.count("GET "+api.ResourceProjects), "nothing is deleted before the name is known")
	assert.Equal(t, 1, result.Count(OutcomeFailed))
}

func TestExportProjectNameFallsBackToSourceName(t *testing.T) {
	dest := newFakeDestination()
	mapping := config.NewMapping(map[string]map[string]string{
		config.SectionProjects:     {"Demo": "Demo by name"},
		config.SectionUsers:        {"alice": "alice"},
		config.SectionStatuses:     {"Open": "unstarted"},
		config.SectionEpicStatuses: {"Open": "to do"},
	})
	_, _, err := migrateOnce(t, demoSource(), dest, mapping)
	require.NoError(t, err)
	assert.Equal(t, "Demo by name", dest.list(api.ResourceProjects)[0]["name"])
}

func TestExportFailedEpicSkipsItsStories(t *testing.T) {
	src := demoSource()
	src.stories[""] = []api.JiraIssue{jiraIssue("DEMO-3", "S2", "Bug", "Open")}
	sub := jiraIssue("DEMO-4", "T1", "Sub-task", "Done")
	src.subtasks["DEMO-2"] = []api.JiraIssue{sub}

	dest := newFakeDestination()
	dest.failOn["POST epics"] = &api.RemoteError{Service: "Shortcut", Method: "POST", Path: "/epics", Status: 400}

	_, result, err := migrateOnce(t, src, dest, demoMapping())
	require.Error(t, err)

	var entityErr *EntityError
	require.True(t, errors.As(err, &entityErr))
	assert.Equal(t, EntityEpic, entityErr.Kind)
	assert.Equal(t, "DEMO-1", entityErr.Key)

	stories := dest.list(api.ResourceStories)
	require.Len(t, stories, 1, "the orphan story is still created")
	assert.Equal(t, "S2", stories[0]["name"])
	assert.Equal(t, "bug", stories[0]["story_type"])

	assert.Equal(t, 2, result.Count(OutcomeSkipped), "S1 and its subtask")
	assert.Equal(t, 1, result.Count(OutcomeFailed))
}

func TestExportUnmappedUserFailsOnlyThatStory(t *testing.T) {
	src := demoSource()
	orphan := jiraIssue("DEMO-3", "S2", "Bug", "Open")
	orphan.Fields.Reporter = &api.JiraUser{Key: "mallory"}
	src.stories[""] = []api.JiraIssue{orphan}

	dest := newFakeDestination()
	_, result, err := migrateOnce(t, src, dest, demoMapping())

	var unmapped *UnmappedReferenceError
	require.True(t, errors.As(err, &unmapped))
	assert.Equal(t, "mallory", unmapped.Ref)
	assert.Len(t, dest.list(api.ResourceStories), 1)
	assert.Equal(t, 1, result.Count(OutcomeFailed))
}

func TestExportSubtasksAndAttachments(t *testing.T) {
	src := demoSource()
	story := &src.stories["DEMO-1"][0]
	story.Fields.Attachment = []api.JiraAttachment{
		{ID: "900", Filename: "diagram.png", MimeType: "image/png", Created: ts},
		{ID: "901", Filename: "missing.pdf", Created: ts},
	}
	src.content["900"] = []byte("PNG!")
	done := jiraIssue("DEMO-4", "T1", "Sub-task", "Done")
	open := jiraIssue("DEMO-5", "T2", "Sub-task", "Open")
	unmapped := jiraIssue("DEMO-6", "T3", "Sub-task", "Review")
	src.subtasks["DEMO-2"] = []api.JiraIssue{done, open, unmapped}

	dest := newFakeDestination()
	project, result, err := migrateOnce(t, src, dest, demoMapping())
	require.NoError(t, err)

	files := dest.list(api.ResourceFiles)
	require.Len(t, files, 1)
	s := dest.list(api.ResourceStories)[0]
	fileIDs, ok := s["file_ids"].([]interface{})
	require.True(t, ok)
	require.Len(t, fileIDs, 1)
	assert.Equal(t, fmt.Sprint(files[0]["id"]), fmt.Sprint(fileIDs[0]))
	assert.Less(t, indexOf(dest.calls, "UPLOAD diagram.png"), indexOf(dest.calls, "POST stories"), "attachments are uploaded before the story")

	tasks := dest.list(api.ResourceStories, fmt.Sprint(s["id"]), api.ResourceTasks)
	require.Len(t, tasks, 3)
	assert.Equal(t, "T1", tasks[0]["description"])
	assert.Equal(t, true, tasks[0]["complete"])
	assert.Equal(t, false, tasks[1]["complete"])
	assert.Equal(t, false, tasks[2]["complete"])

	for _, sub := range project.Epics[0].Stories[0].Subtasks {
		assert.False(t, sub.TargetID.IsZero())
	}
	assert.Equal(t, 1, result.Count(OutcomeSkipped), "missing.pdf")
}

func TestExportLinks(t *testing.T) {
	src := demoSource()
	src.stories[""] = []api.JiraIssue{jiraIssue("DEMO-3", "S2", "Bug", "Open")}
	src.links["DEMO-2"] = []api.JiraIssueLink{
		{Type: api.JiraLinkType{Name: "Blocks"}, OutwardIssue: &api.JiraIssueRef{Key: "DEMO-3"}},
		{Type: api.JiraLinkType{Name: "Blocks"}, OutwardIssue: &api.JiraIssueRef{Key: "OTHER-1"}},
		{Type: api.JiraLinkType{Name: "Blocks"}, OutwardIssue: &api.JiraIssueRef{Key: "DEMO-1"}},
		{Type: api.JiraLinkType{Name: "Clones"}, OutwardIssue: &api.JiraIssueRef{Key: "DEMO-3"}},
	}

	mapping := demoMapping()
	withLinks := &linkMapping{Mapping: mapping, verbs: map[string]string{"Blocks": "blocks"}}

	dest := newFakeDestination()
	project, result, err := migrateOnce(t, src, dest, withLinks)
	require.NoError(t, err, "external and unsupported links are skipped without failing")

	links := dest.list(api.ResourceStoryLinks)
	require.Len(t, links, 1)
	assert.Equal(t, "blocks", links[0]["verb"])
	assert.Equal(t, project.Epics[0].Stories[0].TargetID.String(), fmt.Sprint(links[0]["subject_id"]))
	assert.Equal(t, project.Orphans[0].TargetID.String(), fmt.Sprint(links[0]["object_id"]))
	assert.Equal(t, 2, result.Count(OutcomeSkipped), "OTHER-1 is external, DEMO-1 is an epic")

	// link-types が空ならリンクは作成しない
	dest = newFakeDestination()
	_, _, err = migrateOnce(t, src, dest, mapping)
	require.NoError(t, err)
	assert.Empty(t, dest.list(api.ResourceStoryLinks))
}

func TestStoryParamsRequiresCreatedReferences(t *testing.T) {
	run := newTestRun(t, newFakeSource(), newFakeDestination(), demoMapping())
	x := &projectExport{Exporter: NewExporter(run), result: &ExportResult{}, failed: map[*models.Issue]bool{}}

	project := models.NewProject("DEMO", "Demo", "", run.Registry.Member("alice"))
	x.project = project
	epic := models.NewIssue(models.KindEpic, "DEMO-1", "E1")
	project.AddEpic(epic)
	story := models.NewIssue(models.KindStory, "DEMO-2", "S1")
	story.Status = "Open"
	epic.AddStory(story)

	_, err := x.storyParams(context.Background(), story)
	var missing *MissingDestinationReferenceError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "project_id", missing.Field)

	project.TargetID = "3"
	_, err = x.storyParams(context.Background(), story)
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "epic_id", missing.Field)
	assert.Equal(t, "DEMO-1", missing.Ref)

	epic.TargetID = "4"
	params, err := x.storyParams(context.Background(), story)
	require.NoError(t, err)
	assert.Equal(t, models.ID("4"), params.EpicID)
	assert.Equal(t, models.ID(`"uuid-alice"`), params.RequestedByID, "falls back to the project lead")

	sub := models.NewIssue(models.KindSubtask, "DEMO-3", "T1")
	story.AddSubtask(sub)
	project.BuildIndex()
	require.NoError(t, project.ResolveParents())
	_, err = x.taskParams(context.Background(), sub)
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "story_id", missing.Field)
}

// linkMapping は link-types セクションを追加したマッピングです
type linkMapping struct {
	*config.Mapping
	verbs map[string]string
}

func (m *linkMapping) MapLinkType(linkType string) (string, bool) {
	verb, ok := m.verbs[linkType]
	return verb, ok
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func TestExportUploadsSameNamedAttachmentsSeparately(t *testing.T) {
	src := demoSource()
	src.stories["DEMO-1"][0].Fields.Attachment = []api.JiraAttachment{
		{ID: "900", Filename: "image.png", Size: 4, Created: ts},
		{ID: "901", Filename: "image.png", Size: 6, Created: ts},
	}
	src.content["900"] = []byte("AAAA")
	src.content["901"] = []byte("BBBBBB")

	dest := newFakeDestination()
	_, _, err := migrateOnce(t, src, dest, demoMapping())
	require.NoError(t, err)

	files := dest.list(api.ResourceFiles)
	require.Len(t, files, 2)
	assert.Equal(t, 4, files[0]["size"])
	assert.Equal(t, 6, files[1]["size"])
}

func TestExportInvalidStoryUploadsNothing(t *testing.T) {
	src := demoSource()
	story := &src.stories["DEMO-1"][0]
	story.Fields.Status = &api.JiraNamed{Name: "NoSuchStatus"}
	story.Fields.Attachment = []api.JiraAttachment{{ID: "900", Filename: "diagram.png", Created: ts}}
	src.content["900"] = []byte("PNG!")

	dest := newFakeDestination()
	_, result, err := migrateOnce(t, src, dest, demoMapping())

	var unmapped *UnmappedReferenceError
	require.True(t, errors.As(err, &unmapped))
	assert.Equal(t, "NoSuchStatus", unmapped.Ref)
	assert.Empty(t, dest.list(api.ResourceStories))
	assert.Empty(t, dest.list(api.ResourceFiles))
	assert.Zero(t, dest.count("UPLOAD diagram.png"))
	assert.Equal(t, 1, result.Count(OutcomeFailed))
}

func TestExportEpicCommentFailureKeepsStories(t *testing.T) {
	dest := newFakeDestination()
	epicID := dest.seed(api.ResourceEpics, map[string]interface{}{"name": "E1"})
	dest.failOn["GET epics/"+epicID.String()+"/comments"] = &api.RemoteError{Service: "Shortcut", Method: "GET", Path: "/epics", Status: 500}

	project, result, err := migrateOnce(t, demoSource(), dest, demoMapping())

	var entityErr *EntityError
	require.True(t, errors.As(err, &entityErr))
	assert.Equal(t, EntityComment, entityErr.Kind)
	assert.Equal(t, "DEMO-1", entityErr.Key)

	assert.Equal(t, epicID, project.Epics[0].TargetID)
	assert.Equal(t, 1, result.Count(OutcomeUpdated))
	for _, e := range result.Entries {
		if e.Kind == EntityEpic {
			assert.Equal(t, OutcomeUpdated, e.Outcome)
		}
	}

	stories := dest.list(api.ResourceStories)
	require.Len(t, stories, 1, "stories of the updated epic are still created")
	assert.Equal(t, epicID.String(), fmt.Sprint(stories[0]["epic_id"]))
}

func TestExportRecordsSkippedSubtaskContent(t *testing.T) {
	src := demoSource()
	sub := jiraIssue("DEMO-4", "T1", "Sub-task", "Done")
	sub.Fields.Attachment = []api.JiraAttachment{{ID: "950", Filename: "log.txt", Created: ts}}
	src.subtasks["DEMO-2"] = []api.JiraIssue{sub}
	src.comments["DEMO-4"] = []api.JiraComment{{ID: "700", Author: &api.JiraUser{Key: "alice"}, Body: "done", Created: ts}}

	dest := newFakeDestination()
	project, result, err := migrateOnce(t, src, dest, demoMapping())
	require.NoError(t, err)

	story := project.Epics[0].Stories[0]
	assert.Len(t, dest.list(api.ResourceStories, story.TargetID.String(), api.ResourceTasks), 1)
	assert.Empty(t, dest.list(api.ResourceFiles))

	skipped := make(map[string]string)
	for _, e := range result.Entries {
		if e.Outcome == OutcomeSkipped {
			skipped[e.SourceKey] = e.Kind
		}
	}
	assert.Equal(t, map[string]string{
		"DEMO-4#700":     EntityComment,
		"DEMO-4/log.txt": EntityAttachment,
	}, skipped)
}

func TestExportWarnsOnDuplicateEpicNames(t *testing.T) {
	var buf bytes.Buffer
	utils.SetupLogger(&buf, false)
	defer utils.SetupLogger(os.Stderr, false)

	src := demoSource()
	src.epics = append(src.epics, jiraIssue("DEMO-5", "E1", "Epic", "Open"))

	dest := newFakeDestination()
	_, _, err := migrateOnce(t, src, dest, demoMapping())
	require.NoError(t, err)

	assert.Len(t, dest.list(api.ResourceEpics), 1)
	assert.Contains(t, buf.String(), "DEMO-1 と DEMO-5")
}
