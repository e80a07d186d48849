package game

// Progress 用户的经验、等级、段位与领域熟练度
type Progress struct {
	XP     int            `json:"xp"`
	Level  int            `json:"level"`
	Rank   string         `json:"rank"`
	Title  string         `json:"title"`
	Streak int            `json:"streak"`
	Stats  map[string]int `json:"stats"`
}

func ProgressOf(u UserProfile) Progress {
	return Progress{
		XP:     u.XP,
		Level:  u.Level,
		Rank:   u.Rank,
		Title:  u.Title,
		Streak: u.Streak,
		Stats:  copyStats(u.Stats),
	}
}

// ApplyTo 把进度写回用户资料
func (p Progress) ApplyTo(u *UserProfile) {
	u.XP = p.XP
	u.Level = p.Level
	u.Rank = p.Rank
	u.Title = p.Title
	u.Streak = p.Streak
	u.Stats = copyStats(p.Stats)
}

func copyStats(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// withXP 经验下限为 0，并重新计算等级与段位
func (p Progress) withXP(xp, cost int) Progress {
	if xp < 0 {
		xp = 0
	}
	p.XP = xp
	p.Level = LevelForXP(xp, cost)
	r := RankForLevel(p.Level)
	p.Rank = r.Rank
	p.Title = r.Title
	return p
}

// ApplyCompletion 完成或取消完成一个任务后的进度。
// 完成: +reward，连续天数 +1，领域熟练度 +1；
// 取消: -reward，熟练度 -1 且不低于 1，连续天数不变。
func ApplyCompletion(p Progress, category string, reward int, completed bool, cost int) Progress {
	stats := copyStats(p.Stats)
	current, ok := stats[category]
	if !ok {
		current = 1
	}

	delta := reward
	if completed {
		stats[category] = current + 1
		p.Streak++
	} else {
		delta = -reward
		stats[category] = max(1, current-1)
	}
	p.Stats = stats
	return p.withXP(p.XP+delta, cost)
}

// GrantXP 直接增加经验，用于里程碑奖励
func GrantXP(p Progress, amount, cost int) Progress {
	p.Stats = copyStats(p.Stats)
	return p.withXP(p.XP+amount, cost)
}

// ApplyBatchCompletion 一次性完成多个任务，返回新进度与获得的总经验
func ApplyBatchCompletion(p Progress, tasks []Task, cost int) (Progress, int) {
	stats := copyStats(p.Stats)
	gained := 0
	for _, t := range tasks {
		gained += t.XPReward
		current, ok := stats[t.Category]
		if !ok {
			current = 1
		}
		stats[t.Category] = current + 1
	}
	p.Stats = stats
	p.Streak += len(tasks)
	return p.withXP(p.XP+gained, cost), gained
}

// TotalXP 已完成任务的经验总和
func TotalXP(tasks []Task) int {
	total := 0
	for _, t := range tasks {
		if t.IsCompleted {
			total += t.XPReward
		}
	}
	return total
}
