package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrCategoryNameRequired = errors.New("category name required")
	ErrCategoryExists       = errors.New("category already exists")
	ErrUnknownCategory      = errors.New("unknown category")
)

// Category 任务所属的生活领域。只有 BuiltinCategory 与 CustomCategory 两种实现
type Category interface {
	Key() string
	DisplayName() string
	HexColor() string
	category()
}

// BuiltinCategory 内置领域
type BuiltinCategory string

const (
	Fitness  BuiltinCategory = "Fitness"
	Skills   BuiltinCategory = "Skills"
	Business BuiltinCategory = "Business"
	Family   BuiltinCategory = "Family"
	Finance  BuiltinCategory = "Finance"
	Wellness BuiltinCategory = "Wellness"
	Mission  BuiltinCategory = "Mission"
	Home     BuiltinCategory = "Home"
)

// LifeCategories 参与熟练度统计的六大领域
var LifeCategories = []BuiltinCategory{Fitness, Skills, Business, Family, Finance, Wellness}

// BuiltinCategories 全部内置领域，顺序即展示顺序
var BuiltinCategories = []BuiltinCategory{Home, Fitness, Mission, Skills, Business, Family, Finance, Wellness}

var builtinColors = map[BuiltinCategory]string{
	Fitness:  "#ef4444",
	Skills:   "#3b82f6",
	Business: "#eab308",
	Family:   "#10b981",
	Finance:  "#8b5cf6",
	Wellness: "#ec4899",
	Mission:  "#6366f1",
	Home:     "#ffffff",
}

func (b BuiltinCategory) Key() string         { return string(b) }
func (b BuiltinCategory) DisplayName() string { return strings.ToUpper(string(b)) }
func (b BuiltinCategory) HexColor() string    { return builtinColors[b] }
func (BuiltinCategory) category()             {}

// CustomCategory 用户自定义领域
type CustomCategory struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color"`
}

func (c CustomCategory) Key() string         { return c.ID }
func (c CustomCategory) DisplayName() string { return c.Label }
func (c CustomCategory) HexColor() string    { return c.Color }
func (CustomCategory) category()             {}

const DefaultCustomColor = "#ffffff"

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	hexColorRe   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// CustomCategoryID 名称转大写，空白替换为下划线
func CustomCategoryID(name string) string {
	return whitespaceRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(name)), "_")
}

// NewCustomCategory 构造自定义领域，颜色非法时使用默认白色
func NewCustomCategory(name, color string) (CustomCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CustomCategory{}, ErrCategoryNameRequired
	}
	if !hexColorRe.MatchString(color) {
		color = DefaultCustomColor
	}
	return CustomCategory{ID: CustomCategoryID(name), Label: name, Color: color}, nil
}

// LookupBuiltin 大小写不敏感地匹配内置领域
func LookupBuiltin(key string) (BuiltinCategory, bool) {
	for _, b := range BuiltinCategories {
		if strings.EqualFold(string(b), strings.TrimSpace(key)) {
			return b, true
		}
	}
	return "", false
}

// ParseCategory 先匹配内置领域，再匹配自定义领域
func ParseCategory(key string, customs []CustomCategory) (Category, error) {
	if b, ok := LookupBuiltin(key); ok {
		return b, nil
	}
	id := CustomCategoryID(key)
	for _, c := range customs {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, key)
}

// AddCustomCategory 追加自定义领域，ID 与内置或已有领域冲突时报错
func AddCustomCategory(customs []CustomCategory, c CustomCategory) ([]CustomCategory, error) {
	if _, ok := LookupBuiltin(c.ID); ok {
		return customs, ErrCategoryExists
	}
	for _, existing := range customs {
		if existing.ID == c.ID {
			return customs, ErrCategoryExists
		}
	}
	out := make([]CustomCategory, 0, len(customs)+1)
	out = append(out, customs...)
	return append(out, c), nil
}

// CategoryView 领域的展示结构
type CategoryView struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Color    string `json:"color"`
	IsCustom bool   `json:"isCustom"`
}

// Describe 按领域类型生成展示结构
func Describe(c Category) CategoryView {
	switch v := c.(type) {
	case BuiltinCategory:
		return CategoryView{ID: v.Key(), Label: v.DisplayName(), Color: v.HexColor()}
	case CustomCategory:
		return CategoryView{ID: v.ID, Label: v.Label, Color: v.Color, IsCustom: true}
	default:
		return CategoryView{ID: c.Key(), Label: c.DisplayName(), Color: c.HexColor()}
	}
}

// AllCategories 内置领域在前，自定义领域在后
func AllCategories(customs []CustomCategory) []CategoryView {
	out := make([]CategoryView, 0, len(BuiltinCategories)+len(customs))
	for _, b := range BuiltinCategories {
		out = append(out, Describe(b))
	}
	for _, c := range customs {
		out = append(out, Describe(c))
	}
	return out
}

// MasteryKey 熟练度统计使用的键。自定义领域用自身 ID
func MasteryKey(c Category) string {
	switch v := c.(type) {
	case BuiltinCategory:
		return string(v)
	case CustomCategory:
		return v.ID
	}
	return c.Key()
}
