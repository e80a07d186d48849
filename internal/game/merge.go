package game

import (
	"fmt"
	"sort"
	"time"
)

// Entity 可按 ID 合并的实体
type Entity interface {
	EntityID() string
	UpdatedTime() time.Time
}

// MergePolicy 同一 ID 冲突时的取舍规则
type MergePolicy int

const (
	// PreferLater 位置取第一次出现处，值取最后一次出现的条目
	PreferLater MergePolicy = iota
	// NewestWins 取 UpdatedTime 最大的条目，时间相同时退化为 PreferLater
	NewestWins
)

func (p MergePolicy) String() string {
	switch p {
	case PreferLater:
		return "prefer_later"
	case NewestWins:
		return "newest_wins"
	}
	return fmt.Sprintf("MergePolicy(%d)", int(p))
}

// ParseMergePolicy 未知取值返回 NewestWins
func ParseMergePolicy(s string) MergePolicy {
	if s == PreferLater.String() {
		return PreferLater
	}
	return NewestWins
}

// MergeByID 按 first 在前、second 在后的顺序合并两组实体并按 ID 去重
func MergeByID[T Entity](first, second []T, policy MergePolicy) []T {
	index := make(map[string]int, len(first)+len(second))
	out := make([]T, 0, len(first)+len(second))

	add := func(item T) {
		i, seen := index[item.EntityID()]
		if !seen {
			index[item.EntityID()] = len(out)
			out = append(out, item)
			return
		}
		if policy == NewestWins && out[i].UpdatedTime().After(item.UpdatedTime()) {
			return
		}
		out[i] = item
	}

	for _, item := range first {
		add(item)
	}
	for _, item := range second {
		add(item)
	}
	return out
}

// SortTasksNewestFirst 按创建时间倒序，稳定排序
func SortTasksNewestFirst(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// MergeTaskViews 面板视图的合并：远端与本地拼接后按创建时间倒序，再按 ID 去重
func MergeTaskViews(remote, local []Task, policy MergePolicy) []Task {
	combined := make([]Task, 0, len(remote)+len(local))
	combined = append(combined, remote...)
	combined = append(combined, local...)
	SortTasksNewestFirst(combined)
	return MergeByID(combined, nil, policy)
}
