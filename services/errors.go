package services

import "fmt"

// エンティティの種類 (EntityError や台帳で使用)
const (
	EntityProject    = "project"
	EntityEpic       = "epic"
	EntityStory      = "story"
	EntitySubtask    = "subtask"
	EntityComment    = "comment"
	EntityAttachment = "attachment"
	EntityLink       = "link"
)

// UnmappedReferenceError はマッピング文書に対応がないことを表します
type UnmappedReferenceError struct {
	Section string
	Ref     string
}

func (e *UnmappedReferenceError) Error() string {
	return fmt.Sprintf("マッピング '%s' に '%s' の対応がありません", e.Section, e.Ref)
}

// UnknownDestinationNameError はマッピング先の名前がShortcutに存在しないことを表します
type UnknownDestinationNameError struct {
	Kind string
	Name string
}

func (e *UnknownDestinationNameError) Error() string {
	return fmt.Sprintf("Shortcutの %s に '%s' が見つかりません", e.Kind, e.Name)
}

// MissingDestinationReferenceError は参照先がまだShortcutに作成されていないことを表します
// 依存順 (プロジェクト → エピック → ストーリー → サブタスク) が守られていない場合に発生します
type MissingDestinationReferenceError struct {
	Entity string
	Field  string
	Ref    string
}

func (e *MissingDestinationReferenceError) Error() string {
	return fmt.Sprintf("%s の %s が未作成です (参照先: %s)", e.Entity, e.Field, e.Ref)
}

// EntityError はどのエンティティの処理で失敗したかを付加します
type EntityError struct {
	Kind string
	Key  string
	Err  error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Key, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}
