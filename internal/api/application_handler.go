package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobbridge/internal/api/middleware"
	"jobbridge/internal/database"
)

// ApplicationHandler 负责投递与申请状态机。
type ApplicationHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewApplicationHandler 构造申请处理器。
func NewApplicationHandler(db *gorm.DB, logger *slog.Logger) *ApplicationHandler {
	return &ApplicationHandler{db: db, logger: logger}
}

// Apply 为当前求职者创建一条投递。
// (job, seeker) 去重交给存储层唯一索引，并发重复提交也只会留下一行。
func (h *ApplicationHandler) Apply(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(
		slog.Uint64("identity_id", uint64(identity.ID)),
		slog.Uint64("job_id", jobID),
	)

	var job database.Job
	if err := h.db.WithContext(ctx).First(&job, uint(jobID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		FailErr(c, err)
		return
	}

	// 投递前必须已建档，否则排名阶段拿不到简历
	var profileCount int64
	if err := h.db.WithContext(ctx).Model(&database.JobSeekerProfile{}).
		Where("identity_id = ?", identity.ID).Count(&profileCount).Error; err != nil {
		FailErr(c, err)
		return
	}
	if profileCount == 0 {
		logger.Info("apply rejected: no profile")
		BadRequest(c, "create your profile before applying")
		return
	}

	application := database.Application{
		JobID:    job.ID,
		SeekerID: identity.ID,
		Status:   database.ApplicationApplied,
	}

	if err := h.db.WithContext(ctx).Create(&application).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Info("apply conflict: already applied")
			Conflict(c, "already applied to this job")
			return
		}
		logger.Error("create application failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	logger.Info("application created", slog.Uint64("application_id", uint64(application.ID)))
	Created(c, gin.H{"application_id": application.ID})
}

type applicantView struct {
	ApplicationID  uint                       `json:"application_id"`
	SeekerID       uint                       `json:"seeker_id"`
	Name           string                     `json:"name"`
	College        string                     `json:"college"`
	Degree         string                     `json:"degree"`
	GraduationYear int                        `json:"graduation_year"`
	ResumeName     string                     `json:"resume_name"`
	Status         database.ApplicationStatus `json:"status"`
	Rank           *int                       `json:"rank"`
}

// ListApplicants 返回某职位的全部申请人（带求职者档案摘要）。
// 排序：有排名的按 rank 升序在前，未排名的按姓名排在其后。
func (h *ApplicationHandler) ListApplicants(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	ctx := c.Request.Context()

	var job database.Job
	if err := h.db.WithContext(ctx).First(&job, uint(jobID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		FailErr(c, err)
		return
	}

	if job.EmployerID != identity.ID {
		Forbidden(c, "not the owner of this job")
		return
	}

	var applicants []applicantView
	err = h.db.WithContext(ctx).
		Model(&database.Application{}).
		Select(`applications.id AS application_id, applications.seeker_id, applications.status, applications.rank,
			job_seeker_profiles.name, job_seeker_profiles.college, job_seeker_profiles.degree,
			job_seeker_profiles.graduation_year, job_seeker_profiles.resume_name`).
		Joins("LEFT JOIN job_seeker_profiles ON job_seeker_profiles.identity_id = applications.seeker_id AND job_seeker_profiles.deleted_at IS NULL").
		Where("applications.job_id = ?", job.ID).
		Order("applications.rank ASC NULLS LAST, job_seeker_profiles.name ASC").
		Scan(&applicants).Error
	if err != nil {
		FailErr(c, err)
		return
	}

	OK(c, gin.H{"applicants": applicants})
}

type setStatusRequest struct {
	Status database.ApplicationStatus `json:"status" binding:"required"`
}

// SetStatus 由职位归属雇主改写申请状态。终态允许被再次改写，
// 最后写入者生效。
func (h *ApplicationHandler) SetStatus(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	applicationID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid application id")
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if !req.Status.Valid() {
		BadRequest(c, "status must be applied, selected or rejected")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(
		slog.Uint64("identity_id", uint64(identity.ID)),
		slog.Uint64("application_id", applicationID),
	)

	var application database.Application
	if err := h.db.WithContext(ctx).Preload("Job").First(&application, uint(applicationID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "application not found")
			return
		}
		FailErr(c, err)
		return
	}

	if application.Job.EmployerID != identity.ID {
		logger.Info("set status denied: not owner")
		Forbidden(c, "not the owner of the parent job")
		return
	}

	if err := h.db.WithContext(ctx).
		Model(&database.Application{}).
		Where("id = ?", application.ID).
		Update("status", req.Status).Error; err != nil {
		logger.Error("set status failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	logger.Info("application status updated", slog.String("status", string(req.Status)))
	OK(c, gin.H{"application_id": application.ID, "status": req.Status})
}

func (h *ApplicationHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
