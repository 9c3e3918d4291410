package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role 是身份的封闭角色集合。注册时为 RoleUnset，
// 仅允许一次性切换到 job_seeker 或 employer。
type Role string

const (
	RoleUnset     Role = "unset"
	RoleJobSeeker Role = "job_seeker"
	RoleEmployer  Role = "employer"
)

// Valid 判断角色是否是可选择的终态角色。
func (r Role) Valid() bool {
	return r == RoleJobSeeker || r == RoleEmployer
}

// ApplicationStatus 是申请的状态集合。
type ApplicationStatus string

const (
	ApplicationApplied  ApplicationStatus = "applied"
	ApplicationSelected ApplicationStatus = "selected"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Valid 判断状态是否属于许可集合。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationApplied, ApplicationSelected, ApplicationRejected:
		return true
	}
	return false
}

// Identity 表示一次外部登录对应的主体记录。
// (Provider, Subject) 唯一；Role 一经设置不再变更。
type Identity struct {
	gorm.Model
	Email    string `gorm:"size:255;index"`
	Provider string `gorm:"size:32;uniqueIndex:idx_identity_external"`
	Subject  string `gorm:"size:128;uniqueIndex:idx_identity_external"`
	Role     Role   `gorm:"size:16;default:'unset'"`
}

// JobSeekerProfile 表示求职者档案，每个身份至多一份。
// 简历按契约以内联二进制列存储。
type JobSeekerProfile struct {
	gorm.Model
	IdentityID     uint   `gorm:"uniqueIndex"`
	Identity       Identity
	Name           string `gorm:"size:255"`
	College        string `gorm:"size:255"`
	Degree         string `gorm:"size:255"`
	GraduationYear int
	ResumeName     string `gorm:"size:255"`
	ResumeData     []byte `gorm:"type:bytea"`
}

// EmployerProfile 表示雇主档案，每个身份至多一份。
type EmployerProfile struct {
	gorm.Model
	IdentityID uint `gorm:"uniqueIndex"`
	Identity   Identity
	Name       string `gorm:"size:255"`
	Company    string `gorm:"size:255"`
	Title      string `gorm:"size:255"`
}

// Job 表示雇主发布的职位，归属唯一雇主身份。
type Job struct {
	gorm.Model
	EmployerID  uint `gorm:"index"`
	Employer    Identity `gorm:"foreignKey:EmployerID"`
	Title       string `gorm:"size:255"`
	Description string `gorm:"type:text"`
	RoleTag     string `gorm:"size:128"`
}

// Application 是职位与求职者之间的投递记录。
// (JobID, SeekerID) 的唯一索引在存储层阻止重复投递；
// Rank 为空表示尚未参与排名。
type Application struct {
	gorm.Model
	JobID       uint              `gorm:"uniqueIndex:idx_application_job_seeker"`
	Job         Job               `gorm:"constraint:OnDelete:CASCADE"`
	SeekerID    uint              `gorm:"uniqueIndex:idx_application_job_seeker"`
	Seeker      Identity          `gorm:"foreignKey:SeekerID"`
	Status      ApplicationStatus `gorm:"size:16;default:'applied'"`
	Rank        *int
	RankDetails datatypes.JSON `gorm:"type:jsonb"`
}
