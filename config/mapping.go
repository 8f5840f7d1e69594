package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// マッピング文書のセクション名
const (
	SectionProjects        = "projects"
	SectionUsers           = "users"
	SectionStatuses        = "statuses"
	SectionEpicStatuses    = "epic-statuses"
	SectionStoryTypes      = "story-types"
	SectionSubtaskStatuses = "subtask-statuses"
	SectionLinkTypes       = "link-types"
)

var knownSections = []string{
	SectionProjects, SectionUsers, SectionStatuses, SectionEpicStatuses,
	SectionStoryTypes, SectionSubtaskStatuses, SectionLinkTypes,
}

// Mapping はJIRAの名前・キーをShortcut側の名前に変換する対応表です
// 読み込み後は読み取り専用です。キーは完全一致のみで検索します
type Mapping struct {
	sections map[string]map[string]string
}

// NewMapping はセクション → 対応表からMappingを作成します
func NewMapping(sections map[string]map[string]string) *Mapping {
	if sections == nil {
		sections = make(map[string]map[string]string)
	}
	return &Mapping{sections: sections}
}

// LoadMapping はYAML・JSON・JSONC形式のマッピングファイルを読み込みます
// トップレベルに mappings キーがある場合はその配下を使います
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	m, err := ParseMapping(data, filepath.Ext(path))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return m, nil
}

// ParseMapping はマッピング文書を解析します
func ParseMapping(data []byte, ext string) (*Mapping, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		// YAMLはJSONの上位互換なので、コメントを除去してからYAMLとして読む
		data = jsonc.ToJSON(data)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("マッピング解析エラー: %w", err)
	}

	if nested, ok := doc["mappings"]; ok {
		doc = nil
		if err := nested.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mappings セクション解析エラー: %w", err)
		}
	}

	sections := make(map[string]map[string]string)
	for _, name := range knownSections {
		node, ok := doc[name]
		if !ok {
			continue
		}
		table := make(map[string]string)
		if err := node.Decode(&table); err != nil {
			return nil, fmt.Errorf("%s セクション解析エラー: %w", name, err)
		}
		sections[name] = table
	}
	return NewMapping(sections), nil
}

func (m *Mapping) lookup(section, key string) (string, bool) {
	value, ok := m.sections[section][key]
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// MapProject はJIRAプロジェクト(キーまたは名前)をShortcutプロジェクト名に変換します
func (m *Mapping) MapProject(key string) (string, bool) {
	return m.lookup(SectionProjects, key)
}

// MapUser はJIRAユーザーキーをShortcutのメンション名に変換します
func (m *Mapping) MapUser(handle string) (string, bool) {
	return m.lookup(SectionUsers, handle)
}

// MapStatus はJIRAステータスをShortcutのワークフロー状態名に変換します
func (m *Mapping) MapStatus(status string) (string, bool) {
	return m.lookup(SectionStatuses, status)
}

// MapEpicStatus はJIRAステータスをShortcutのエピック状態名に変換します
func (m *Mapping) MapEpicStatus(status string) (string, bool) {
	return m.lookup(SectionEpicStatuses, status)
}

// MapStoryType はJIRA課題タイプをShortcutのストーリータイプに変換します
func (m *Mapping) MapStoryType(issueType string) (string, bool) {
	return m.lookup(SectionStoryTypes, issueType)
}

// MapSubtaskStatus はJIRAステータスがサブタスク完了を意味するかを返します
func (m *Mapping) MapSubtaskStatus(status string) (bool, bool) {
	value, ok := m.lookup(SectionSubtaskStatuses, status)
	if !ok {
		return false, false
	}
	complete, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return complete, true
}

// MapLinkType はJIRAリンクタイプをShortcutのストーリーリンク動詞に変換します
func (m *Mapping) MapLinkType(linkType string) (string, bool) {
	return m.lookup(SectionLinkTypes, linkType)
}

// ProjectKeys は projects セクションのキーを並べて返します
func (m *Mapping) ProjectKeys() []string {
	keys := make([]string, 0, len(m.sections[SectionProjects]))
	for k := range m.sections[SectionProjects] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len はセクション内の対応数を返します
func (m *Mapping) Len(section string) int {
	return len(m.sections[section])
}
