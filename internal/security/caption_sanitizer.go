// Package security はアプリケーションのセキュリティ機能を提供する。
//
// CaptionSanitizerService はコンテンツカタログ由来のキャプションHTMLを
// サニタイズし、操作者チャネルへの通知メッセージに安全に埋め込めるようにする。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// チャット通知で解釈される最小限の装飾タグのみを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// CaptionSanitizerService はキャプションHTMLのサニタイズ機能のインターフェースを定義する。
// 通知メッセージの組み立て時に使用される。
type CaptionSanitizerService interface {
	// Sanitize はキャプションHTMLをサニタイズして安全なHTMLを返す。
	// 許可タグ（b, strong, i, em, u, s, code, pre, a）のみを通過させ、
	// script, iframe, styleタグおよびon*イベント属性を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// captionSanitizer はCaptionSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type captionSanitizer struct {
	policy *bluemonday.Policy
}

// NewCaptionSanitizer はCaptionSanitizerServiceの新しいインスタンスを生成する。
// 初期化時にbluemondayのカスタムポリシーを構築する。
// ポリシーの内容:
//   - 許可タグ: b, strong, i, em, u, s, code, pre, a（チャット通知で解釈されるタグのみ）
//   - 禁止タグ: script, iframe, style および全てのon*イベント属性
//   - aタグ: href属性のみ許可、相対URLは不許可
func NewCaptionSanitizer() *captionSanitizer {
	p := bluemonday.NewPolicy()

	// on*イベント属性はbluemondayのデフォルトで許可されないため除去される
	p.AllowElements(
		"b", "strong", "i", "em", "u", "s",
		"code", "pre",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("https")

	return &captionSanitizer{
		policy: p,
	}
}

// Sanitize はキャプションHTMLをサニタイズして安全なHTMLを返す。
func (s *captionSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
