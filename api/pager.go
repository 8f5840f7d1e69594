package api

import "fmt"

// DefaultPageSize はJIRA APIの1ページあたりの取得件数です
const DefaultPageSize = 50

// collectPages はページを順に取得し、満杯でないページが返った時点で終了します
// 総件数は前提にしません
func collectPages[T any](pageSize int, fetch func(startAt, maxResults int) ([]T, error)) ([]T, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("ページサイズが不正です: %d", pageSize)
	}
	var all []T
	startAt := 0
	for {
		page, err := fetch(startAt, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		startAt += len(page)
	}
}
