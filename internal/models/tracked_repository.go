package models

import "time"

// Kind is the deployable-unit category, which selects the destination root.
type Kind string

const (
	KindPlugin Kind = "plugin"
	KindTheme  Kind = "theme"
)

// TrackedRepository is a GitHub repository registered for deployment.
type TrackedRepository struct {
	ID                    uint   `gorm:"primaryKey"`
	Owner                 string `gorm:"size:255;not null;uniqueIndex:idx_owner_name"`
	Name                  string `gorm:"size:255;not null;uniqueIndex:idx_owner_name"`
	Ref                   string `gorm:"size:255;not null;default:main"`
	Kind                  Kind   `gorm:"size:32;not null;default:plugin"`
	TargetDir             string `gorm:"size:255;not null"`
	AutoUpdate            bool   `gorm:"index;default:false"`
	LastCheckedAt         *time.Time
	LastDeployedAt        *time.Time
	LastDeployedCommitSHA *string `gorm:"size:64"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FullName returns "owner/name".
func (r TrackedRepository) FullName() string {
	return r.Owner + "/" + r.Name
}
