package game

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPlayerName = "Player"
	DefaultGender     = "Male"
	DefaultBio        = "The system has initialized. Awaiting user input."
)

// LocalIDPrefix 仅存在于本地缓存的任务 ID 前缀
const LocalIDPrefix = "local-"

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

func NewLocalID(now time.Time) string {
	return LocalIDPrefix + strconv.FormatInt(now.UnixMilli(), 10)
}

// NewEntityID 服务端分配的实体 ID
func NewEntityID() string {
	return uuid.New().String()
}

type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Point 路线图画布坐标
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	ProjectID   string     `json:"projectId,omitempty"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Complexity  Complexity `json:"complexity"`
	XPReward    int        `json:"xpReward"`
	IsCompleted bool       `json:"isCompleted"`
	DueDate     string     `json:"dueDate,omitempty"`
	Description string     `json:"description,omitempty"`
	Subtasks    []Subtask  `json:"subtasks"`
	Tags        []string   `json:"tags,omitempty"`
	Position    *Point     `json:"position,omitempty"`
	Connections []string   `json:"connections,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Version     int64      `json:"version"`
}

func (t Task) EntityID() string       { return t.ID }
func (t Task) UpdatedTime() time.Time { return t.UpdatedAt }

// AllSubtasksDone 没有子任务时返回 false
func (t Task) AllSubtasksDone() bool {
	if len(t.Subtasks) == 0 {
		return false
	}
	for _, s := range t.Subtasks {
		if !s.Completed {
			return false
		}
	}
	return true
}

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "Active"
	ProjectOnHold    ProjectStatus = "On Hold"
	ProjectCompleted ProjectStatus = "Completed"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectOnHold, ProjectCompleted:
		return true
	}
	return false
}

type Milestone struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"isCompleted"`
	XPReward    int    `json:"xpReward"`
}

type Project struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	Deadline    string        `json:"deadline,omitempty"`
	Tags        []string      `json:"tags"`
	XPBonus     int           `json:"xpBonus"`
	Milestones  []Milestone   `json:"milestones"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Version     int64         `json:"version"`
}

func (p Project) EntityID() string       { return p.ID }
func (p Project) UpdatedTime() time.Time { return p.UpdatedAt }

type SubVenture struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type BusinessVenture struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Revenue     float64      `json:"revenue"`
	Status      string       `json:"status"`
	Efficiency  int          `json:"efficiency"`
	SubVentures []SubVenture `json:"subVentures"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Version     int64        `json:"version"`
}

func (b BusinessVenture) EntityID() string       { return b.ID }
func (b BusinessVenture) UpdatedTime() time.Time { return b.UpdatedAt }

type SkillDomain string

const (
	DomainMind          SkillDomain = "mind"
	DomainCommunication SkillDomain = "communication"
	DomainCreative      SkillDomain = "creative"
)

func (d SkillDomain) Valid() bool {
	switch d {
	case DomainMind, DomainCommunication, DomainCreative:
		return true
	}
	return false
}

type SkillTechnique struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Acquired bool   `json:"acquired"`
}

type SkillNode struct {
	ID         string           `json:"id"`
	Domain     SkillDomain      `json:"domain"`
	Name       string           `json:"name"`
	Level      int              `json:"level"`
	Mastery    int              `json:"mastery"`
	Rank       Complexity       `json:"rank"`
	Techniques []SkillTechnique `json:"techniques"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	Version    int64            `json:"version"`
}

func (s SkillNode) EntityID() string       { return s.ID }
func (s SkillNode) UpdatedTime() time.Time { return s.UpdatedAt }

type UserProfile struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Level     int            `json:"level"`
	XP        int            `json:"xp"`
	Rank      string         `json:"rank"`
	Streak    int            `json:"streak"`
	Title     string         `json:"title"`
	AvatarURL string         `json:"avatarUrl,omitempty"`
	Height    float64        `json:"height"`
	Weight    float64        `json:"weight"`
	Age       int            `json:"age"`
	Gender    string         `json:"gender"`
	Goals     []string       `json:"goals"`
	Bio       string         `json:"bio"`
	Stats     map[string]int `json:"stats"`
	IsPremium bool           `json:"isPremium"`
	Version   int64          `json:"version"`
}

type StrengthStats struct {
	Upper      int `json:"upper"`
	Lower      int `json:"lower"`
	Core       int `json:"core"`
	Grip       int `json:"grip"`
	Functional int `json:"functional"`
}

type MuscleStats struct {
	MassScore  int      `json:"mass_score"`
	Symmetry   int      `json:"symmetry"`
	WeakPoints []string `json:"weak_points"`
}

type AestheticsStats struct {
	Face        int `json:"face"`
	Vascularity int `json:"vascularity"`
	Posture     int `json:"posture"`
	Appeal      int `json:"appeal"`
}

type FitnessStats struct {
	Strength   StrengthStats   `json:"strength"`
	Muscle     MuscleStats     `json:"muscle"`
	Aesthetics AestheticsStats `json:"aesthetics"`
	BodyFat    float64         `json:"bodyFat"`
}

type SkillTree struct {
	Mind          []SkillNode `json:"mind"`
	Communication []SkillNode `json:"communication"`
	Creative      []SkillNode `json:"creative"`
}

// Domain 返回对应分支的指针，未知分支返回 nil
func (t *SkillTree) Domain(d SkillDomain) *[]SkillNode {
	switch d {
	case DomainMind:
		return &t.Mind
	case DomainCommunication:
		return &t.Communication
	case DomainCreative:
		return &t.Creative
	}
	return nil
}

func (t SkillTree) Len() int {
	return len(t.Mind) + len(t.Communication) + len(t.Creative)
}

type FinanceStats struct {
	MonthlyIncome       float64 `json:"monthlyIncome"`
	SavingsRate         float64 `json:"savingsRate"`
	EmergencyFundMonths float64 `json:"emergencyFundMonths"`
	PortfolioValue      float64 `json:"portfolioValue"`
	Debt                float64 `json:"debt"`
}

type WellnessStats struct {
	SleepAvg      float64 `json:"sleepAvg"`
	WaterIntake   float64 `json:"waterIntake"`
	MentalClarity int     `json:"mentalClarity"`
	SkinHealth    int     `json:"skinHealth"`
}

type DeepStats struct {
	Fitness  FitnessStats      `json:"fitness"`
	Skills   SkillTree         `json:"skills"`
	Business []BusinessVenture `json:"business"`
	Finance  FinanceStats      `json:"finance"`
	Wellness WellnessStats     `json:"wellness"`
}

// AppState 单个用户的完整可观察状态
type AppState struct {
	User      UserProfile `json:"user"`
	Tasks     []Task      `json:"tasks"`
	Projects  []Project   `json:"projects"`
	DeepStats DeepStats   `json:"deepStats"`
}

// DefaultStats 六大领域熟练度初始为 1
func DefaultStats() map[string]int {
	stats := make(map[string]int, len(LifeCategories))
	for _, c := range LifeCategories {
		stats[string(c)] = 1
	}
	return stats
}

func DefaultFitness() FitnessStats {
	return FitnessStats{Muscle: MuscleStats{WeakPoints: []string{}}}
}

func DefaultProfile() UserProfile {
	top := RankForLevel(1)
	return UserProfile{
		Name:   DefaultPlayerName,
		Level:  1,
		Rank:   top.Rank,
		Title:  top.Title,
		Gender: DefaultGender,
		Bio:    DefaultBio,
		Goals:  []string{},
		Stats:  DefaultStats(),
	}
}

// DefaultState 每次调用返回新的实例，调用方可以随意修改
func DefaultState() AppState {
	return AppState{
		User:     DefaultProfile(),
		Tasks:    []Task{},
		Projects: []Project{},
		DeepStats: DeepStats{
			Fitness: DefaultFitness(),
			Skills: SkillTree{
				Mind:          []SkillNode{},
				Communication: []SkillNode{},
				Creative:      []SkillNode{},
			},
			Business: []BusinessVenture{},
		},
	}
}
