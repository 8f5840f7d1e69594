package models

import "fmt"

// LinkEnd はリンクの片端です。未解決ならソースキー、解決済みならイシューを持ちます
type LinkEnd struct {
	key   string
	issue *Issue
}

// Unresolved はキーのみを持つ未解決の端を作成します
func Unresolved(key string) LinkEnd {
	return LinkEnd{key: key}
}

// Resolved は解決済みの端を作成します
func Resolved(issue *Issue) LinkEnd {
	return LinkEnd{key: issue.Key, issue: issue}
}

// Key は参照先のソースキーを返します
func (e LinkEnd) Key() string {
	return e.key
}

// Issue は解決済みのイシューを返します (未解決ならnil)
func (e LinkEnd) Issue() *Issue {
	return e.issue
}

// IsResolved は解決済みかどうかを返します
func (e LinkEnd) IsResolved() bool {
	return e.issue != nil
}

// Link はイシュー間の型付き有向リンクです
// 参照先は最初のアクセス時にプロジェクトの索引から解決されます
type Link struct {
	Type   string
	Origin LinkEnd
	Target LinkEnd
}

// UnresolvedLinkError はリンクの参照先が解決できなかったことを表します
// External が false の場合は索引構築前のアクセス (呼び出し順の誤り) です
type UnresolvedLinkError struct {
	Key      string
	External bool
}

func (e *UnresolvedLinkError) Error() string {
	if e.External {
		return fmt.Sprintf("リンク先 %s はプロジェクト外のイシューです", e.Key)
	}
	return fmt.Sprintf("リンク先 %s は索引構築前に参照されました", e.Key)
}

// NewLink は origin から targetKey への未解決リンクを作成します
func NewLink(origin *Issue, targetKey, linkType string) *Link {
	return &Link{
		Type:   linkType,
		Origin: Resolved(origin),
		Target: Unresolved(targetKey),
	}
}

// Resolve は索引を使って両端を解決します。何度呼んでも安全です
func (l *Link) Resolve(index map[string]*Issue) error {
	var err error
	l.Origin, err = resolveEnd(l.Origin, index)
	if err != nil {
		return err
	}
	l.Target, err = resolveEnd(l.Target, index)
	return err
}

// SourceIssue はリンク元のイシューを返します (必要なら解決します)
func (l *Link) SourceIssue() (*Issue, error) {
	if l.Origin.IsResolved() {
		return l.Origin.issue, nil
	}
	if err := l.Resolve(l.index()); err != nil {
		return nil, err
	}
	return l.Origin.issue, nil
}

// TargetIssue はリンク先のイシューを返します (必要なら解決します)
func (l *Link) TargetIssue() (*Issue, error) {
	if l.Target.IsResolved() {
		return l.Target.issue, nil
	}
	if err := l.Resolve(l.index()); err != nil {
		return nil, err
	}
	return l.Target.issue, nil
}

// index は解決済みの端が属するプロジェクトの索引を返します
func (l *Link) index() map[string]*Issue {
	for _, end := range []LinkEnd{l.Origin, l.Target} {
		if end.issue != nil && end.issue.Project != nil {
			return end.issue.Project.Index
		}
	}
	return nil
}

func resolveEnd(end LinkEnd, index map[string]*Issue) (LinkEnd, error) {
	if end.IsResolved() {
		return end, nil
	}
	if index == nil {
		return end, &UnresolvedLinkError{Key: end.key}
	}
	issue, ok := index[end.key]
	if !ok {
		return end, &UnresolvedLinkError{Key: end.key, External: true}
	}
	return Resolved(issue), nil
}
