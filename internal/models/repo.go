package models

import "time"

// Repo is a registered dispatch target for runs.
type Repo struct {
	ID            string `gorm:"primaryKey;size:32"`
	Owner         string `gorm:"size:64;not null;uniqueIndex:idx_repos_owner_name"`
	Name          string `gorm:"size:64;not null;uniqueIndex:idx_repos_owner_name"`
	DefaultBranch string `gorm:"size:128;default:main"`
	ConfigPath    string `gorm:"size:255;default:signalbox.yaml"`
	Enabled       bool   `gorm:"default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FullName returns the "owner/name" form used in queries and logs.
func (r *Repo) FullName() string {
	return r.Owner + "/" + r.Name
}
