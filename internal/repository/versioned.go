package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrForeignOwner 主键已被其他用户的行占用
var ErrForeignOwner = errors.New("row belongs to another user")

// upsertVersioned 库中版本小于 version 时覆盖整行，行不存在时插入。
// owner 非空时只覆盖 user_id 相同的行，主键属于其他用户时返回 ErrForeignOwner。
// 返回 false 表示库中已有相同或更新的版本，本次写入被丢弃
func upsertVersioned[T any](db *gorm.DB, row *T, keyColumn, key, owner string, version int64) (bool, error) {
	q := db.Model(row).
		Select("*").
		Omit(keyColumn, "created_at").
		Where("version < ?", version)
	if owner != "" {
		q = q.Where("user_id = ?", owner)
	}
	res := q.Updates(row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(new(T)).Where(keyColumn+" = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		if err := db.Create(row).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if owner != "" {
		var mine int64
		if err := db.Model(new(T)).Where(keyColumn+" = ? AND user_id = ?", key, owner).Count(&mine).Error; err != nil {
			return false, err
		}
		if mine == 0 {
			return false, ErrForeignOwner
		}
	}
	return false, nil
}

// IsNotFound gorm 未找到记录
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsSchemaMissing 判断错误是否由数据表不存在引起
func IsSchemaMissing(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1146
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}
