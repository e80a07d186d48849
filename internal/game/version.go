package game

import "time"

// NextVersion 实体版本号单调递增，并尽量贴近墙钟毫秒，
// 使不同进程写入的版本可以直接比较
func NextVersion(prev int64, now time.Time) int64 {
	return max(prev+1, now.UnixMilli())
}

// Versioned 带版本号、可按 ID 定位的实体
type Versioned interface {
	Entity
	EntityVersion() int64
}

func (t Task) EntityVersion() int64            { return t.Version }
func (p Project) EntityVersion() int64         { return p.Version }
func (b BusinessVenture) EntityVersion() int64 { return b.Version }
func (s SkillNode) EntityVersion() int64       { return s.Version }

// IndexOf 返回 ID 对应的下标，不存在时返回 -1
func IndexOf[T Entity](items []T, id string) int {
	for i, item := range items {
		if item.EntityID() == id {
			return i
		}
	}
	return -1
}
