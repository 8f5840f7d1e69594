package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"jiratoshortcut/api"
	"jiratoshortcut/config"
	"jiratoshortcut/models"
)

// fakeSource はメモリ上のJIRAです
type fakeSource struct {
	projects []api.JiraProject
	epics    []api.JiraIssue
	stories  map[string][]api.JiraIssue // エピックキー ("" はエピックなし) → ストーリー
	subtasks map[string][]api.JiraIssue
	comments map[string][]api.JiraComment
	links    map[string][]api.JiraIssueLink
	watchers map[string][]api.JiraUser
	content  map[string][]byte // 添付ファイルID → 中身

	commentErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stories:  make(map[string][]api.JiraIssue),
		subtasks: make(map[string][]api.JiraIssue),
		comments: make(map[string][]api.JiraComment),
		links:    make(map[string][]api.JiraIssueLink),
		watchers: make(map[string][]api.JiraUser),
		content:  make(map[string][]byte),
	}
}

func (f *fakeSource) GetProjects(ctx context.Context) ([]api.JiraProject, error) {
	return f.projects, nil
}

func (f *fakeSource) GetProject(ctx context.Context, key string) (*api.JiraProject, error) {
	for i := range f.projects {
		if f.projects[i].Key == key {
			return &f.projects[i], nil
		}
	}
	return nil, &api.RemoteError{Service: "JIRA", Method: http.MethodGet, Path: "/rest/api/2/project/" + key, Status: http.StatusNotFound}
}

func (f *fakeSource) GetEpics(ctx context.Context, projectKey string) ([]api.JiraIssue, error) {
	return f.epics, nil
}

func (f *fakeSource) GetIssues(ctx context.Context, projectKey, epicKey string) ([]api.JiraIssue, error) {
	return f.stories[epicKey], nil
}

func (f *fakeSource) GetSubtasks(ctx context.Context, issueKey string) ([]api.JiraIssue, error) {
	return f.subtasks[issueKey], nil
}

func (f *fakeSource) GetComments(ctx context.Context, issueKey string) ([]api.JiraComment, error) {
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	return f.comments[issueKey], nil
}

func (f *fakeSource) GetAttachmentContent(ctx context.Context, att api.JiraAttachment) ([]byte, error) {
	content, ok := f.content[att.ID]
	if !ok {
		return nil, api.ErrAttachmentUnavailable
	}
	return content, nil
}

func (f *fakeSource) GetLinks(ctx context.Context, issueKey string) ([]api.JiraIssueLink, error) {
	return f.links[issueKey], nil
}

func (f *fakeSource) GetWatchers(ctx context.Context, issueKey string) ([]api.JiraUser, error) {
	return f.watchers[issueKey], nil
}

// fakeDestination はメモリ上のShortcutです
// POSTしたオブジェクトはパスごとのコレクションに、IDつきのパスでも参照できるように保存します
type fakeDestination struct {
	members    []api.ShortcutMember
	workflows  []api.Workflow
	epicStates []api.WorkflowState

	nextID      int
	collections map[string][]map[string]interface{}
	objects     map[string]map[string]interface{}
	calls       []string
	failOn      map[string]error // "POST epics" → エラー
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		members: []api.ShortcutMember{
			{ID: models.ParseID("uuid-alice"), Profile: api.MemberProfile{MentionName: "alice", Name: "Alice"}},
			{ID: models.ParseID("uuid-bob"), Profile: api.MemberProfile{MentionName: "bob", Name: "Bob"}},
		},
		workflows: []api.Workflow{
			{ID: "1", Name: "Engineering", States: []api.WorkflowState{
				{ID: "500", Name: "unstarted"},
				{ID: "501", Name: "started"},
				{ID: "502", Name: "done"},
			}},
			{ID: "2", Name: "Support", States: []api.WorkflowState{
				{ID: "600", Name: "unstarted"},
			}},
		},
		epicStates: []api.WorkflowState{
			{ID: "700", Name: "to do"},
			{ID: "701", Name: "done"},
		},
		nextID:      1000,
		collections: make(map[string][]map[string]interface{}),
		objects:     make(map[string]map[string]interface{}),
		failOn:      make(map[string]error),
	}
}

func (d *fakeDestination) count(call string) int {
	n := 0
	for _, c := range d.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (d *fakeDestination) list(path ...string) []map[string]interface{} {
	return d.collections[strings.Join(path, "/")]
}

// seed は既存のオブジェクトを登録します
func (d *fakeDestination) seed(collection string, fields map[string]interface{}) models.ID {
	d.nextID++
	obj := map[string]interface{}{"id": d.nextID}
	for k, v := range fields {
		obj[k] = v
	}
	d.collections[collection] = append(d.collections[collection], obj)
	d.objects[collection+"/"+strconv.Itoa(d.nextID)] = obj
	return models.ID(strconv.Itoa(d.nextID))
}

func (d *fakeDestination) Get(ctx context.Context, path ...string) (json.RawMessage, error) {
	key := strings.Join(path, "/")
	d.calls = append(d.calls, "GET "+key)
	if err := d.failOn["GET "+key]; err != nil {
		return nil, err
	}

	switch key {
	case api.ResourceMembers:
		return json.Marshal(d.members)
	case api.ResourceWorkflows:
		return json.Marshal(d.workflows)
	case api.ResourceEpicWorkflow:
		return json.Marshal(api.EpicWorkflow{ID: "1", EpicStates: d.epicStates})
	}

	// projects/{id}/stories
	if len(path) == 3 && path[0] == api.ResourceProjects && path[2] == api.ResourceStories {
		stories := []map[string]interface{}{}
		for _, s := range d.collections[api.ResourceStories] {
			if fmt.Sprint(s["project_id"]) == path[1] {
				stories = append(stories, s)
			}
		}
		return json.Marshal(stories)
	}
	if obj, ok := d.objects[key]; ok {
		return json.Marshal(obj)
	}
	items := d.collections[key]
	if items == nil {
		items = []map[string]interface{}{}
	}
	return json.Marshal(items)
}

func (d *fakeDestination) Post(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error) {
	key := strings.Join(path, "/")
	d.calls = append(d.calls, "POST "+key)
	if err := d.failOn["POST "+key]; err != nil {
		return nil, err
	}
	fields, err := toFields(body)
	if err != nil {
		return nil, err
	}
	id := d.seed(key, fields)
	return json.Marshal(d.objects[key+"/"+id.String()])
}

func (d *fakeDestination) Put(ctx context.Context, body interface{}, path ...string) (json.RawMessage, error) {
	key := strings.Join(path, "/")
	d.calls = append(d.calls, "PUT "+key)
	if err := d.failOn["PUT "+key]; err != nil {
		return nil, err
	}
	obj, ok := d.objects[key]
	if !ok {
		return nil, &api.RemoteError{Service: "Shortcut", Method: http.MethodPut, Path: "/" + key, Status: http.StatusNotFound}
	}
	fields, err := toFields(body)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		obj[k] = v
	}
	return json.Marshal(obj)
}

func (d *fakeDestination) Delete(ctx context.Context, path ...string) error {
	key := strings.Join(path, "/")
	d.calls = append(d.calls, "DELETE "+key)
	if _, ok := d.objects[key]; !ok {
		return &api.RemoteError{Service: "Shortcut", Method: http.MethodDelete, Path: "/" + key, Status: http.StatusNotFound}
	}
	delete(d.objects, key)

	collection := strings.Join(path[:len(path)-1], "/")
	items := d.collections[collection]
	for i, obj := range items {
		if fmt.Sprint(obj["id"]) == path[len(path)-1] {
			d.collections[collection] = append(items[:i:i], items[i+1:]...)
			break
		}
	}
	return nil
}

func (d *fakeDestination) UploadFile(ctx context.Context, filename string, content []byte, mimeType string) (models.ID, error) {
	d.calls = append(d.calls, "UPLOAD "+filename)
	if err := d.failOn["UPLOAD "+filename]; err != nil {
		return "", err
	}
	return d.seed(api.ResourceFiles, map[string]interface{}{"name": filename, "size": len(content)}), nil
}

func toFields(body interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

const ts = "2020-03-04T05:06:07.000+0000"

func jiraIssue(key, summary, issueType, status string) api.JiraIssue {
	alice := &api.JiraUser{Key: "alice"}
	return api.JiraIssue{
		ID:  strings.TrimPrefix(key, "DEMO-"),
		Key: key,
		Fields: api.JiraIssueFields{
			Summary:   summary,
			IssueType: &api.JiraNamed{Name: issueType},
			Status:    &api.JiraNamed{Name: status},
			Reporter:  alice,
			Created:   ts,
			Updated:   ts,
		},
	}
}

// demoSource はプロジェクトDEMO (エピックE1 → ストーリーS1、担当alice) を返します
func demoSource() *fakeSource {
	src := newFakeSource()
	src.projects = []api.JiraProject{{ID: "10000", Key: "DEMO", Name: "Demo", Lead: &api.JiraUser{Key: "alice"}}}

	src.epics = []api.JiraIssue{jiraIssue("DEMO-1", "E1", "Epic", "Open")}
	src.comments["DEMO-1"] = []api.JiraComment{
		{ID: "500", Author: &api.JiraUser{Key: "alice"}, Body: "epic note", Created: ts},
		{ID: "501", Author: &api.JiraUser{Key: "alice"}, Body: "second note", Created: ts},
	}

	s1 := jiraIssue("DEMO-2", "S1", "Story", "Open")
	s1.Fields.Assignee = &api.JiraUser{Key: "alice"}
	s1.Fields.DueDate = "2020-03-10"
	src.stories["DEMO-1"] = []api.JiraIssue{s1}
	src.comments["DEMO-2"] = []api.JiraComment{{ID: "600", Author: &api.JiraUser{Key: "alice"}, Body: "looks good", Created: ts}}
	return src
}

// demoMapping は demoSource 用のマッピングです
func demoMapping() *config.Mapping {
	return config.NewMapping(map[string]map[string]string{
		config.SectionProjects:        {"DEMO": "Demo"},
		config.SectionUsers:           {"alice": "alice", "bob": "bob"},
		config.SectionStatuses:        {"Open": "unstarted", "In Progress": "started", "Done": "done"},
		config.SectionEpicStatuses:    {"Open": "to do", "Done": "done"},
		config.SectionStoryTypes:      {"Bug": "bug", "Story": "feature"},
		config.SectionSubtaskStatuses: {"Done": "true", "Open": "false"},
	})
}

func newTestRun(t *testing.T, src SourceClient, dest DestinationClient, mapping MappingStore) *RunContext {
	t.Helper()
	return NewRunContext(src, dest, mapping, RunSettings{AttachmentsFolder: t.TempDir()})
}
