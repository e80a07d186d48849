package game

import "strings"

// Complexity 任务难度等级
type Complexity string

const (
	ComplexityE   Complexity = "E"
	ComplexityD   Complexity = "D"
	ComplexityC   Complexity = "C"
	ComplexityB   Complexity = "B"
	ComplexityA   Complexity = "A"
	ComplexityS   Complexity = "S"
	ComplexitySS  Complexity = "SS"
	ComplexitySSS Complexity = "SSS"
)

// DefaultTaskXP 无法识别难度时的奖励
const DefaultTaskXP = 10

// XPThresholds 难度 -> 经验奖励，仅在任务创建时查表
var XPThresholds = map[Complexity]int{
	ComplexityE:   10,
	ComplexityD:   25,
	ComplexityC:   50,
	ComplexityB:   100,
	ComplexityA:   250,
	ComplexityS:   500,
	ComplexitySS:  1000,
	ComplexitySSS: 5000,
}

// ParseComplexity 大小写不敏感地解析难度
func ParseComplexity(s string) (Complexity, bool) {
	c := Complexity(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := XPThresholds[c]
	return c, ok
}

// XPForComplexity 返回难度对应的经验值
func XPForComplexity(c Complexity) int {
	if xp, ok := XPThresholds[c]; ok {
		return xp
	}
	return DefaultTaskXP
}

const (
	LevelCostStandard = 1000
	LevelCostCompact  = 100
)

// LevelForXP 等级 = floor(xp / cost) + 1，负数经验按 0 处理
func LevelForXP(xp, cost int) int {
	if cost <= 0 {
		cost = LevelCostStandard
	}
	if xp < 0 {
		xp = 0
	}
	return xp/cost + 1
}

// Rank 等级段位
type Rank struct {
	MinLevel int    `json:"minLevel"`
	Rank     string `json:"rank"`
	Title    string `json:"title"`
}

// RankTable 按最低等级降序排列
var RankTable = []Rank{
	{MinLevel: 100, Rank: "National Level", Title: "Shadow Monarch"},
	{MinLevel: 80, Rank: "S-Rank", Title: "S-Class Hunter"},
	{MinLevel: 60, Rank: "A-Rank", Title: "High Ranker"},
	{MinLevel: 40, Rank: "B-Rank", Title: "Guild Master"},
	{MinLevel: 20, Rank: "C-Rank", Title: "Veteran Hunter"},
	{MinLevel: 10, Rank: "D-Rank", Title: "Rookie"},
	{MinLevel: 1, Rank: "E-Rank", Title: "Novice"},
}

// RankForLevel 取第一个 MinLevel <= level 的段位，找不到时返回最低段位
func RankForLevel(level int) Rank {
	for _, r := range RankTable {
		if level >= r.MinLevel {
			return r
		}
	}
	return RankTable[len(RankTable)-1]
}
