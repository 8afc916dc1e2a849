package model

import "time"

// MixRatioTolerance はカテゴリミックスの比率合計に許容される誤差。
const MixRatioTolerance = 0.01

// CategoryMixEntry はカテゴリとその配分比率のペアを表す。
// 比率は 0 < ratio <= 1 の範囲を取る。
type CategoryMixEntry struct {
	Category string
	Ratio    float64
}

// CategoryMixVersion はカテゴリミックスの1バージョンを表す。
// ArchivedAtがnilのバージョンが「現行」であり、常に1つだけ存在する。
// 更新のたびに新バージョンが作成され、旧バージョンは監査用に保持される。
type CategoryMixVersion struct {
	ID         string
	Entries    []CategoryMixEntry
	CreatedAt  time.Time
	ArchivedAt *time.Time
}

// ValidateMixEntries はミックスエントリ集合を検証する。
// 空集合、0以下または1超の比率、許容誤差を超える合計を拒否する。
// 検証失敗時は*APIErrorを返す。
func ValidateMixEntries(entries []CategoryMixEntry) error {
	if len(entries) == 0 {
		return NewInvalidMixError("エントリが空です")
	}

	seen := make(map[string]bool, len(entries))
	sum := 0.0
	for _, e := range entries {
		if e.Category == "" {
			return NewInvalidMixError("カテゴリ名が空です")
		}
		if seen[e.Category] {
			return NewInvalidMixError("カテゴリが重複しています: " + e.Category)
		}
		seen[e.Category] = true

		if e.Ratio <= 0 || e.Ratio > 1 {
			return NewInvalidMixRatioError(e.Category, e.Ratio)
		}
		sum += e.Ratio
	}

	if sum < 1.0-MixRatioTolerance || sum > 1.0+MixRatioTolerance {
		return NewInvalidMixSumError(sum)
	}

	return nil
}
