package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"jiratoshortcut/models"
	"jiratoshortcut/utils"
)

// ledgerHeaders は移行台帳CSVの列です
var ledgerHeaders = []string{"source_key", "kind", "destination_id", "outcome"}

// Ledger は移行結果 (JIRAキー → ShortcutのID) をCSVファイルに記録します
type Ledger struct {
	path string
}

// NewLedger は新しい台帳を作成します
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Read は台帳CSVを読み込みます。ファイルがない場合は空を返します
func (l *Ledger) Read() ([]LedgerEntry, error) {
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("CSVオープンエラー: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSV読み込みエラー: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	index := make(map[string]int)
	for i, header := range records[0] {
		index[header] = i
	}
	for _, h := range ledgerHeaders {
		if _, ok := index[h]; !ok {
			return nil, fmt.Errorf("台帳に必要なカラム %s が見つかりません", h)
		}
	}

	entries := make([]LedgerEntry, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) != len(records[0]) {
			utils.LogWarn("台帳 行 %d: フィールド数が不一致（ヘッダー: %d, 行: %d）", i+2, len(records[0]), len(record))
			continue
		}
		entries = append(entries, LedgerEntry{
			SourceKey:     record[index["source_key"]],
			Kind:          record[index["kind"]],
			DestinationID: models.ParseID(record[index["destination_id"]]),
			Outcome:       record[index["outcome"]],
		})
	}
	return entries, nil
}

// Update は既存の台帳に結果を反映して書き込みます
// 同じ (種類, キー) の行は新しい結果で置き換え、それ以外の行は残します
func (l *Ledger) Update(entries []LedgerEntry) error {
	existing, err := l.Read()
	if err != nil {
		return err
	}

	type rowKey struct{ kind, key string }
	position := make(map[rowKey]int, len(existing))
	merged := make([]LedgerEntry, 0, len(existing)+len(entries))
	for _, e := range existing {
		position[rowKey{e.Kind, e.SourceKey}] = len(merged)
		merged = append(merged, e)
	}
	updated := 0
	for _, e := range entries {
		k := rowKey{e.Kind, e.SourceKey}
		if i, ok := position[k]; ok {
			merged[i] = e
			updated++
			continue
		}
		position[k] = len(merged)
		merged = append(merged, e)
	}

	file, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("CSVファイル作成エラー: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(ledgerHeaders); err != nil {
		return fmt.Errorf("ヘッダー書き込みエラー: %w", err)
	}
	for _, e := range merged {
		row := []string{e.SourceKey, e.Kind, e.DestinationID.String(), e.Outcome}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("行書き込みエラー: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV書き込み完了エラー: %w", err)
	}

	utils.LogInfo("移行台帳を更新しました: %s (新規=%d, 更新=%d)", l.path, len(entries)-updated, updated)
	return nil
}
