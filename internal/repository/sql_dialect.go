package repository

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dbDialectName 获取数据库方言名称，默认按 sqlite 处理。
func dbDialectName(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return "sqlite"
	}
	name := strings.ToLower(strings.TrimSpace(db.Dialector.Name()))
	if name == "" {
		return "sqlite"
	}
	return name
}

// supportsRowLock 方言是否支持 SELECT ... FOR UPDATE
func supportsRowLock(dialect string) bool {
	switch dialect {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

// forUpdate 在支持的方言上追加行锁；SQLite 依赖单写连接串行化。
func forUpdate(db *gorm.DB) *gorm.DB {
	if supportsRowLock(dbDialectName(db)) {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}
