package user

import "time"

// User is the persisted credential record. Fields stay free of database-specific
// defaults so the same model migrates on postgres and on sqlite in tests.
type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	Name         string    `gorm:"column:name;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	Role         string    `gorm:"column:role;not null;default:employee"`
	DepartmentID *string   `gorm:"column:department_id;type:varchar(36)"`
	Position     string    `gorm:"column:position"`
	PictureURL   string    `gorm:"column:picture_url"`
	TokenVersion int       `gorm:"column:token_version;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (User) TableName() string {
	return "users"
}
