package model

import (
	"encoding/json"
	"nova_progress_backend/internal/game"
	"time"

	"gorm.io/datatypes"
)

// TaskFromRow 行 -> 实体。xp 为 0 时按难度查表兜底
func TaskFromRow(r Task) game.Task {
	details := r.Details.Data()
	xp := r.XP
	if xp == 0 {
		xp = game.XPForComplexity(game.Complexity(r.Complexity))
	}
	t := game.Task{
		ID:          r.ID,
		UserID:      r.UserID,
		ProjectID:   r.ProjectID,
		Title:       r.Title,
		Category:    r.Category,
		Complexity:  game.Complexity(r.Complexity),
		XPReward:    xp,
		IsCompleted: r.Done,
		DueDate:     details.DueDate,
		Description: r.Note,
		Subtasks:    details.Subtasks,
		Tags:        []string(r.Tags),
		Connections: []string(r.Connections),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Version:     r.Version,
	}
	if t.Subtasks == nil {
		t.Subtasks = []game.Subtask{}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if r.X != nil && r.Y != nil {
		t.Position = &game.Point{X: *r.X, Y: *r.Y}
	}
	return t
}

func TaskToRow(userID string, t game.Task) Task {
	r := Task{
		VersionedBase: VersionedBase{
			UUIDBase: UUIDBase{ID: t.ID, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt},
			UserID:   userID,
			Version:  t.Version,
		},
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Category:    t.Category,
		Complexity:  string(t.Complexity),
		XP:          t.XPReward,
		Done:        t.IsCompleted,
		Note:        t.Description,
		Details:     datatypes.NewJSONType(TaskDetails{Subtasks: t.Subtasks, DueDate: t.DueDate}),
		Tags:        datatypes.NewJSONSlice(t.Tags),
		Connections: datatypes.NewJSONSlice(t.Connections),
	}
	if t.Position != nil {
		x, y := t.Position.X, t.Position.Y
		r.X, r.Y = &x, &y
	}
	return r
}

func ProjectFromRow(r Project) game.Project {
	p := game.Project{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      game.ProjectStatus(r.Status),
		Deadline:    r.Deadline,
		Tags:        []string(r.Tags),
		XPBonus:     r.XPBonus,
		Milestones:  []game.Milestone(r.Milestones),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Version:     r.Version,
	}
	if p.Milestones == nil {
		p.Milestones = []game.Milestone{}
	}
	return p
}

func ProjectToRow(userID string, p game.Project) Project {
	return Project{
		VersionedBase: VersionedBase{
			UUIDBase: UUIDBase{ID: p.ID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt},
			UserID:   userID,
			Version:  p.Version,
		},
		Title:       p.Title,
		Description: p.Description,
		Status:      string(p.Status),
		XPBonus:     p.XPBonus,
		Tags:        datatypes.NewJSONSlice(p.Tags),
		Deadline:    p.Deadline,
		Milestones:  datatypes.NewJSONSlice(p.Milestones),
	}
}

func SkillFromRow(r SkillLevel) game.SkillNode {
	s := game.SkillNode{
		ID:         r.ID,
		Domain:     game.SkillDomain(r.Domain),
		Name:       r.Name,
		Level:      r.Level,
		Mastery:    r.Mastery,
		Rank:       game.Complexity(r.Rank),
		Techniques: []game.SkillTechnique(r.Techniques),
		UpdatedAt:  r.UpdatedAt,
		Version:    r.Version,
	}
	if s.Techniques == nil {
		s.Techniques = []game.SkillTechnique{}
	}
	return s
}

func SkillToRow(userID string, s game.SkillNode) SkillLevel {
	return SkillLevel{
		VersionedBase: VersionedBase{
			UUIDBase: UUIDBase{ID: s.ID, UpdatedAt: s.UpdatedAt},
			UserID:   userID,
			Version:  s.Version,
		},
		Domain:     string(s.Domain),
		Name:       s.Name,
		Level:      s.Level,
		Mastery:    s.Mastery,
		Rank:       string(s.Rank),
		Techniques: datatypes.NewJSONSlice(s.Techniques),
	}
}

// SkillTreeFromRows 按 domain 分组，未知 domain 丢弃
func SkillTreeFromRows(rows []SkillLevel) game.SkillTree {
	tree := game.SkillTree{
		Mind:          []game.SkillNode{},
		Communication: []game.SkillNode{},
		Creative:      []game.SkillNode{},
	}
	for _, r := range rows {
		node := SkillFromRow(r)
		if branch := tree.Domain(node.Domain); branch != nil {
			*branch = append(*branch, node)
		}
	}
	return tree
}

func BusinessFromRow(r BusinessField) game.BusinessVenture {
	b := game.BusinessVenture{
		ID:          r.ID,
		Name:        r.Name,
		Type:        r.Type,
		Revenue:     r.Revenue,
		Status:      r.Status,
		Efficiency:  r.Efficiency,
		SubVentures: []game.SubVenture(r.SubVentures),
		UpdatedAt:   r.UpdatedAt,
		Version:     r.Version,
	}
	if b.SubVentures == nil {
		b.SubVentures = []game.SubVenture{}
	}
	return b
}

func BusinessToRow(userID string, b game.BusinessVenture) BusinessField {
	return BusinessField{
		VersionedBase: VersionedBase{
			UUIDBase: UUIDBase{ID: b.ID, UpdatedAt: b.UpdatedAt},
			UserID:   userID,
			Version:  b.Version,
		},
		Name:        b.Name,
		Type:        b.Type,
		Status:      b.Status,
		Revenue:     b.Revenue,
		Efficiency:  b.Efficiency,
		SubVentures: datatypes.NewJSONSlice(b.SubVentures),
	}
}

// NewProfileRow 首次登录时生成的资料行
func NewProfileRow(userID, name string) Profile {
	def := game.DefaultProfile()
	if name == "" {
		name = def.Name
	}
	return Profile{
		ID:     userID,
		Name:   name,
		Title:  def.Title,
		Gender: def.Gender,
		Bio:    def.Bio,
		Goals:  datatypes.NewJSONSlice(def.Goals),
		Stats:  datatypes.NewJSONType(def.Stats),
	}
}

func NewGamificationRow(userID string) Gamification {
	def := game.DefaultProfile()
	return Gamification{
		UserID:         userID,
		Level:          def.Level,
		Rank:           def.Rank,
		StreakDays:     def.Streak,
		ProgressToNext: def.XP,
	}
}

// MergeProfile 远端字段非零值覆盖 prev，零值保留 prev。
// 名字为空且 prev 仍是默认名时使用邮箱名
func MergeProfile(prev game.UserProfile, p Profile, g Gamification, emailName string) game.UserProfile {
	u := prev
	u.ID = p.ID

	switch {
	case p.Name != "":
		u.Name = p.Name
	case prev.Name == game.DefaultPlayerName && emailName != "":
		u.Name = emailName
	}
	u.Title = orString(p.Title, prev.Title)
	u.Height = orFloat(p.Height, prev.Height)
	u.Weight = orFloat(p.Weight, prev.Weight)
	u.Age = orInt(p.Age, prev.Age)
	u.Gender = orString(p.Gender, prev.Gender)
	u.Bio = orString(p.Bio, prev.Bio)
	u.AvatarURL = orString(p.AvatarURL, prev.AvatarURL)
	if p.Goals != nil {
		u.Goals = []string(p.Goals)
	}
	if stats := p.Stats.Data(); len(stats) > 0 {
		u.Stats = stats
	}
	u.IsPremium = p.IsPremium || prev.IsPremium
	u.Version = p.Version

	u.Level = orInt(g.Level, orInt(prev.Level, 1))
	u.XP = orInt(g.ProgressToNext, prev.XP)
	u.Rank = orString(g.Rank, orString(prev.Rank, game.RankForLevel(1).Rank))
	u.Streak = orInt(g.StreakDays, prev.Streak)
	return u
}

// ProfileToRow 实体 -> profiles 行
func ProfileToRow(u game.UserProfile) Profile {
	return Profile{
		ID:        u.ID,
		Name:      u.Name,
		Title:     u.Title,
		Height:    u.Height,
		Weight:    u.Weight,
		Age:       u.Age,
		Gender:    u.Gender,
		Bio:       u.Bio,
		Goals:     datatypes.NewJSONSlice(u.Goals),
		AvatarURL: u.AvatarURL,
		Stats:     datatypes.NewJSONType(u.Stats),
		IsPremium: u.IsPremium,
		Version:   u.Version,
	}
}

// GamificationFromProgress 经验快照行
func GamificationFromProgress(userID string, p game.Progress, version int64, at time.Time) Gamification {
	return Gamification{
		UserID:         userID,
		Level:          p.Level,
		Rank:           p.Rank,
		StreakDays:     p.Streak,
		ProgressToNext: p.XP,
		LastActivity:   &at,
		Version:        version,
	}
}

// FitnessFromRow 没有测量记录时返回默认值
func FitnessFromRow(r *FitnessMetric) game.FitnessStats {
	def := game.DefaultFitness()
	if r == nil {
		return def
	}
	f := game.FitnessStats{
		Strength:   r.Strength.Data(),
		Muscle:     r.Muscle.Data(),
		Aesthetics: r.Aesthetics.Data(),
		BodyFat:    r.BodyFat,
	}
	if f.Muscle.WeakPoints == nil {
		f.Muscle.WeakPoints = []string{}
	}
	return f
}

// ApplySnapshots 每个领域取第一条 Finance / Wellness 快照覆盖默认值，解析失败的忽略
func ApplySnapshots(stats *game.DeepStats, snapshots []UserSnapshot) {
	var financeSet, wellnessSet bool
	for _, s := range snapshots {
		switch s.Category {
		case string(game.Finance):
			var f game.FinanceStats
			if !financeSet && json.Unmarshal(s.Data, &f) == nil {
				stats.Finance = f
				financeSet = true
			}
		case string(game.Wellness):
			var w game.WellnessStats
			if !wellnessSet && json.Unmarshal(s.Data, &w) == nil {
				stats.Wellness = w
				wellnessSet = true
			}
		}
	}
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
