package game

import (
	"sort"
	"strings"
	"time"
)

type CategoryStat struct {
	Category       string  `json:"category"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	XP             int     `json:"xp"`
	CompletionRate float64 `json:"completionRate"`
}

type DailyXP struct {
	Date string `json:"date"`
	XP   int    `json:"xp"`
}

type Analytics struct {
	TotalTasks     int            `json:"totalTasks"`
	CompletedTasks int            `json:"completedTasks"`
	WinRate        float64        `json:"winRate"`
	TotalXP        int            `json:"totalXp"`
	Categories     []CategoryStat `json:"categories"`
	Momentum       []DailyXP      `json:"momentum"`
}

// FilterByCategory 按领域键过滤，大小写不敏感
func FilterByCategory(tasks []Task, c Category) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.EqualFold(t.Category, c.Key()) {
			out = append(out, t)
		}
	}
	return out
}

// BuildAnalytics 汇总各领域完成情况以及最近 days 天的经验曲线
func BuildAnalytics(tasks []Task, now time.Time, days int) Analytics {
	a := Analytics{TotalTasks: len(tasks)}
	byCategory := map[string]*CategoryStat{}

	start := now.AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)
	daily := make(map[string]int, days)

	for _, t := range tasks {
		stat, ok := byCategory[t.Category]
		if !ok {
			stat = &CategoryStat{Category: t.Category}
			byCategory[t.Category] = stat
		}
		stat.Total++
		if !t.IsCompleted {
			continue
		}
		stat.Completed++
		stat.XP += t.XPReward
		a.CompletedTasks++
		a.TotalXP += t.XPReward

		at := t.UpdatedAt
		if at.IsZero() {
			at = t.CreatedAt
		}
		if !at.Before(start) {
			daily[at.Format("2006-01-02")] += t.XPReward
		}
	}

	if a.TotalTasks > 0 {
		a.WinRate = float64(a.CompletedTasks) / float64(a.TotalTasks)
	}

	a.Categories = make([]CategoryStat, 0, len(byCategory))
	for _, stat := range byCategory {
		if stat.Total > 0 {
			stat.CompletionRate = float64(stat.Completed) / float64(stat.Total)
		}
		a.Categories = append(a.Categories, *stat)
	}
	sort.Slice(a.Categories, func(i, j int) bool {
		return a.Categories[i].Category < a.Categories[j].Category
	})

	a.Momentum = make([]DailyXP, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i).Format("2006-01-02")
		a.Momentum = append(a.Momentum, DailyXP{Date: d, XP: daily[d]})
	}
	return a
}
