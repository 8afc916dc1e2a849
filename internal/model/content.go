// Package model はドメインモデルを定義する。
package model

import "time"

// ContentItem はコンテンツカタログに登録されたストーリー素材を表す。
// ContentHashは生バイト列から導出され、割り当て後は不変。
// ファイル名からハッシュを計算してはならない。
type ContentItem struct {
	ID           string
	ContentHash  string
	Category     string
	Caption      string
	IsActive     bool
	IsDuplicate  bool
	TimesPosted  int
	LastPostedAt *time.Time // nilは未投稿を表す
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NeverPosted はこの素材が一度も投稿されていないかを返す。
func (c *ContentItem) NeverPosted() bool {
	return c.LastPostedAt == nil
}
