// Package schedule はスケジュール作成（素材選定とスロット割り当て）を提供する。
// スロット計算とカテゴリ別目標数の算出を含む。
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/storycast/internal/model"
)

// CategoryTarget はカテゴリとそのスロット目標数のペア。
type CategoryTarget struct {
	Category string
	Target   int
}

// ComputeTargets はミックス比率からカテゴリ別のスロット目標数を算出する。
// 端数は最大剰余法で調整し、目標数の合計がtotalSlotsに一致することを保証する。
// 戻り値は目標数降順（同数の場合はカテゴリ名昇順）。
func ComputeTargets(entries []model.CategoryMixEntry, totalSlots int) []CategoryTarget {
	if totalSlots <= 0 || len(entries) == 0 {
		return nil
	}

	type frac struct {
		category  string
		base      int
		remainder float64
	}

	fracs := make([]frac, 0, len(entries))
	assigned := 0
	for _, e := range entries {
		exact := float64(totalSlots) * e.Ratio
		base := int(exact)
		fracs = append(fracs, frac{
			category:  e.Category,
			base:      base,
			remainder: exact - float64(base),
		})
		assigned += base
	}

	// 端数調整: 合計がtotalSlotsに一致するまで配分・削減する。
	// 比率合計は1.0±0.01の範囲を取るため、余剰・超過ともに
	// カテゴリ数を超える場合がある。
	leftover := totalSlots - assigned
	sort.Slice(fracs, func(i, j int) bool {
		if fracs[i].remainder != fracs[j].remainder {
			return fracs[i].remainder > fracs[j].remainder
		}
		return fracs[i].category < fracs[j].category
	})
	for i := 0; i < leftover; i++ {
		fracs[i%len(fracs)].base++
	}
	for excess := -leftover; excess > 0; {
		// 剰余の小さいカテゴリから削る
		for i := len(fracs) - 1; i >= 0 && excess > 0; i-- {
			if fracs[i].base > 0 {
				fracs[i].base--
				excess--
			}
		}
	}

	targets := make([]CategoryTarget, 0, len(fracs))
	for _, f := range fracs {
		targets = append(targets, CategoryTarget{Category: f.category, Target: f.base})
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Target != targets[j].Target {
			return targets[i].Target > targets[j].Target
		}
		return targets[i].Category < targets[j].Category
	})

	return targets
}

// SlotLayout はスロット時刻の算出設定。
type SlotLayout struct {
	WindowStart string // "HH:MM"
	WindowEnd   string // "HH:MM"
}

// SlotTimes はbaseDateの翌日を起点に、days日分×slotsPerDay個のスロット時刻を
// 時系列昇順で返す。各日のスロットはウィンドウ内に均等配置される。
func (l SlotLayout) SlotTimes(baseDate time.Time, days, slotsPerDay int) ([]time.Time, error) {
	startMin, err := parseTimeOfDay(l.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("スロットウィンドウ開始時刻が不正です: %w", err)
	}
	endMin, err := parseTimeOfDay(l.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("スロットウィンドウ終了時刻が不正です: %w", err)
	}
	if endMin < startMin {
		return nil, fmt.Errorf("スロットウィンドウの終了時刻が開始時刻より前です: %s > %s", l.WindowStart, l.WindowEnd)
	}

	// 当日分は割り当てず、翌日0時を起点とする
	year, month, day := baseDate.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, baseDate.Location()).AddDate(0, 0, 1)

	// スロット間隔: 1日1スロットの場合はウィンドウ開始時刻のみ使用
	step := 0
	if slotsPerDay > 1 {
		step = (endMin - startMin) / (slotsPerDay - 1)
	}

	times := make([]time.Time, 0, days*slotsPerDay)
	for d := 0; d < days; d++ {
		for s := 0; s < slotsPerDay; s++ {
			offset := time.Duration(startMin+s*step) * time.Minute
			times = append(times, dayStart.AddDate(0, 0, d).Add(offset))
		}
	}

	return times, nil
}

// parseTimeOfDay は"HH:MM"を0時からの分数に変換する。
func parseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
