package model

import "time"

// User 表示系统用户。
type User struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	Username string `gorm:"type:varchar(64);uniqueIndex;not null"` // 用户名（唯一）
	Password string `gorm:"not null"`                              // bcrypt 哈希
	Nickname string `gorm:"type:varchar(64)"`                      // 昵称
	Role     string `gorm:"type:varchar(16);default:user"`         // 角色: admin / user

	Tasks []CompareTask `gorm:"foreignKey:UserID"`
}
