package models

import "time"

type Project struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title         string    `gorm:"type:varchar(191);not null" json:"title"`
	Description   string    `gorm:"type:text" json:"description"`
	TargetAmount  int64     `gorm:"not null;default:0" json:"target_amount"`
	CurrentAmount int64     `gorm:"not null;default:0" json:"current_amount"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// SeedProjects are inserted into an empty development database.
var SeedProjects = []Project{
	{Title: "Clean Water for All", Description: "Provide clean water to rural communities.", TargetAmount: 50000},
	{Title: "School Supplies Drive", Description: "Equip students with essential school supplies.", TargetAmount: 30000},
	{Title: "Healthcare Access Fund", Description: "Support medical camps in underserved areas.", TargetAmount: 75000},
}
