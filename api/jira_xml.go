package api

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrAttachmentUnavailable はオフライン移行で添付ファイルの実体が手元にないことを表します
var ErrAttachmentUnavailable = errors.New("添付ファイルの実体がありません")

// JIRAの検索結果XML (RSS形式) の構造
type xmlRSS struct {
	Items []xmlItem `xml:"channel>item"`
}

type xmlText struct {
	ID       string `xml:"id,attr"`
	Key      string `xml:"key,attr"`
	Username string `xml:"username,attr"`
	Value    string `xml:",chardata"`
}

type xmlItem struct {
	Key         xmlText `xml:"key"`
	Summary     string  `xml:"summary"`
	Description string  `xml:"description"`
	Project     xmlText `xml:"project"`
	Type        xmlText `xml:"type"`
	Status      xmlText `xml:"status"`
	Parent      xmlText `xml:"parent"`
	Assignee    xmlText `xml:"assignee"`
	Reporter    xmlText `xml:"reporter"`
	Created     string  `xml:"created"`
	Updated     string  `xml:"updated"`
	Due         string  `xml:"due"`

	Comments []struct {
		ID      string `xml:"id,attr"`
		Author  string `xml:"author,attr"`
		Created string `xml:"created,attr"`
		Body    string `xml:",chardata"`
	} `xml:"comments>comment"`

	LinkTypes []struct {
		Name     string `xml:"name"`
		Outwards []struct {
			Keys []string `xml:"issuelink>issuekey"`
		} `xml:"outwardlinks"`
	} `xml:"issuelinks>issuelinktype"`

	Attachments []struct {
		ID      string `xml:"id,attr"`
		Name    string `xml:"name,attr"`
		Size    int64  `xml:"size,attr"`
		Author  string `xml:"author,attr"`
		Created string `xml:"created,attr"`
	} `xml:"attachments>attachment"`

	Subtasks []xmlText `xml:"subtasks>subtask"`

	CustomFields []struct {
		Name   string   `xml:"customfieldname"`
		Values []string `xml:"customfieldvalues>customfieldvalue"`
	} `xml:"customfields>customfield"`
}

// customField はカスタムフィールドの値を返します (なければ空文字列)
func (item *xmlItem) customField(name string) string {
	for _, cf := range item.CustomFields {
		if cf.Name == name && len(cf.Values) > 0 {
			return cleanup(cf.Values[0])
		}
	}
	return ""
}

// XMLSource はJIRAの検索結果XMLエクスポートを読み込み、APIの代わりにイシューを提供します
type XMLSource struct {
	projects       []JiraProject
	issues         []JiraIssue
	epicOf         map[string]string // イシューキー → エピックキー
	comments       map[string][]JiraComment
	links          map[string][]JiraIssueLink
	attachmentsDir string
}

// LoadXMLSource はXMLエクスポートファイルを読み込みます
// attachmentsDir には <attachmentsDir>/<添付ID>/<ファイル名> の形で実体を置けます
func LoadXMLSource(path, attachmentsDir string) (*XMLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("XMLファイルオープンエラー: %w", err)
	}
	defer f.Close()
	return ParseXMLSource(f, attachmentsDir)
}

// ParseXMLSource はXMLエクスポートを解析します
func ParseXMLSource(r io.Reader, attachmentsDir string) (*XMLSource, error) {
	var rss xmlRSS
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	if err := decoder.Decode(&rss); err != nil {
		return nil, fmt.Errorf("XML解析エラー: %w", err)
	}

	src := &XMLSource{
		epicOf:         make(map[string]string),
		comments:       make(map[string][]JiraComment),
		links:          make(map[string][]JiraIssueLink),
		attachmentsDir: attachmentsDir,
	}

	seenProjects := make(map[string]bool)
	epicKeys := make(map[string]bool)
	epicNames := make(map[string]string) // Epic Name → キー
	epicLinks := make(map[string]string)

	for idx := range rss.Items {
		item := &rss.Items[idx]
		key := cleanup(item.Key.Value)
		projectKey := item.Project.Key

		if projectKey != "" && !seenProjects[projectKey] {
			seenProjects[projectKey] = true
			src.projects = append(src.projects, JiraProject{
				ID:   item.Project.ID,
				Key:  projectKey,
				Name: cleanup(item.Project.Value),
			})
		}

		issue := JiraIssue{
			ID:  item.Key.ID,
			Key: key,
			Fields: JiraIssueFields{
				Summary:     cleanup(item.Summary),
				Description: strings.TrimSpace(item.Description),
				Status:      &JiraNamed{ID: item.Status.ID, Name: cleanup(item.Status.Value)},
				IssueType:   &JiraNamed{ID: item.Type.ID, Name: cleanup(item.Type.Value)},
				Assignee:    xmlUser(item.Assignee),
				Reporter:    xmlUser(item.Reporter),
				Created:     cleanup(item.Created),
				Updated:     cleanup(item.Updated),
				DueDate:     cleanup(item.Due),
			},
		}
		if parent := cleanup(item.Parent.Value); parent != "" {
			issue.Fields.Parent = &JiraIssueRef{ID: item.Parent.ID, Key: parent}
			issue.Fields.IssueType.Subtask = true
		}
		for _, sub := range item.Subtasks {
			issue.Fields.Subtasks = append(issue.Fields.Subtasks, JiraIssueRef{ID: sub.ID, Key: cleanup(sub.Value)})
		}
		for _, a := range item.Attachments {
			issue.Fields.Attachment = append(issue.Fields.Attachment, JiraAttachment{
				ID:       a.ID,
				Filename: a.Name,
				Author:   &JiraUser{Key: a.Author},
				Created:  a.Created,
				Size:     a.Size,
				MimeType: mime.TypeByExtension(filepath.Ext(a.Name)),
			})
		}

		for _, c := range item.Comments {
			src.comments[key] = append(src.comments[key], JiraComment{
				ID:      c.ID,
				Author:  &JiraUser{Key: c.Author},
				Body:    strings.TrimSpace(c.Body),
				Created: c.Created,
			})
		}
		for _, lt := range item.LinkTypes {
			for _, out := range lt.Outwards {
				for _, target := range out.Keys {
					src.links[key] = append(src.links[key], JiraIssueLink{
						Type:         JiraLinkType{Name: cleanup(lt.Name)},
						OutwardIssue: &JiraIssueRef{Key: cleanup(target)},
					})
				}
			}
		}

		if issue.TypeName() == "Epic" {
			epicKeys[key] = true
			if name := item.customField("Epic Name"); name != "" {
				epicNames[name] = key
			}
		}
		if link := item.customField("Epic Link"); link != "" {
			epicLinks[key] = link
		}

		src.issues = append(src.issues, issue)
	}

	// Epic Link はキーまたはエピック名のどちらかで記録されている
	for key, link := range epicLinks {
		switch {
		case epicKeys[link]:
			src.epicOf[key] = link
		case epicNames[link] != "":
			src.epicOf[key] = epicNames[link]
		}
	}

	return src, nil
}

// GetProjects はXMLに含まれるプロジェクトを返します
func (x *XMLSource) GetProjects(ctx context.Context) ([]JiraProject, error) {
	return x.projects, nil
}

// GetProject はキーを指定してプロジェクトを返します
func (x *XMLSource) GetProject(ctx context.Context, key string) (*JiraProject, error) {
	for i := range x.projects {
		if x.projects[i].Key == key {
			p := x.projects[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("プロジェクト %s はエクスポートに含まれていません", key)
}

// GetEpics はプロジェクトのエピックを返します
func (x *XMLSource) GetEpics(ctx context.Context, projectKey string) ([]JiraIssue, error) {
	return x.filter(projectKey, func(i *JiraIssue) bool {
		return i.TypeName() == "Epic"
	}), nil
}

// GetIssues はエピック配下 (epicKeyが空ならエピックなし) のストーリーを返します
func (x *XMLSource) GetIssues(ctx context.Context, projectKey, epicKey string) ([]JiraIssue, error) {
	return x.filter(projectKey, func(i *JiraIssue) bool {
		if i.TypeName() == "Epic" || i.Fields.Parent != nil {
			return false
		}
		return x.epicOf[i.Key] == epicKey
	}), nil
}

// GetSubtasks はイシューのサブタスクを返します
func (x *XMLSource) GetSubtasks(ctx context.Context, issueKey string) ([]JiraIssue, error) {
	return x.filter("", func(i *JiraIssue) bool {
		return i.Fields.Parent != nil && i.Fields.Parent.Key == issueKey
	}), nil
}

// GetComments はイシューのコメントを返します
func (x *XMLSource) GetComments(ctx context.Context, issueKey string) ([]JiraComment, error) {
	return x.comments[issueKey], nil
}

// GetLinks はイシューの外向きリンクを返します
func (x *XMLSource) GetLinks(ctx context.Context, issueKey string) ([]JiraIssueLink, error) {
	return x.links[issueKey], nil
}

// GetWatchers はXMLにウォッチャー一覧が含まれないため常に空を返します
func (x *XMLSource) GetWatchers(ctx context.Context, issueKey string) ([]JiraUser, error) {
	return nil, nil
}

// GetAttachmentContent は添付ファイルの実体をローカルフォルダから読み込みます
func (x *XMLSource) GetAttachmentContent(ctx context.Context, att JiraAttachment) ([]byte, error) {
	if x.attachmentsDir == "" {
		return nil, ErrAttachmentUnavailable
	}
	candidates := []string{
		filepath.Join(x.attachmentsDir, att.ID, att.Filename),
		filepath.Join(x.attachmentsDir, att.Filename),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("添付ファイル読み込みエラー: %w", err)
		}
	}
	return nil, ErrAttachmentUnavailable
}

func (x *XMLSource) filter(projectKey string, keep func(*JiraIssue) bool) []JiraIssue {
	var result []JiraIssue
	for i := range x.issues {
		issue := &x.issues[i]
		if projectKey != "" && projectOf(issue.Key) != projectKey {
			continue
		}
		if keep(issue) {
			result = append(result, *issue)
		}
	}
	return result
}

// projectOf はイシューキー (DEMO-12) からプロジェクトキーを取り出します
func projectOf(issueKey string) string {
	if i := strings.LastIndex(issueKey, "-"); i > 0 {
		return issueKey[:i]
	}
	return issueKey
}

func xmlUser(t xmlText) *JiraUser {
	if t.Username == "" || t.Username == "-1" {
		return nil
	}
	return &JiraUser{Key: t.Username, DisplayName: cleanup(t.Value)}
}

var spaces = regexp.MustCompile(`\s\s+`)

// cleanup は余分な空白・タブ・改行を取り除きます
func cleanup(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(strings.ReplaceAll(s, "\n", ""), " "))
}
