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

// JobHandler 负责职位的发布、检索与删除。
type JobHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewJobHandler 构造职位处理器。
func NewJobHandler(db *gorm.DB, logger *slog.Logger) *JobHandler {
	return &JobHandler{db: db, logger: logger}
}

type createJobRequest struct {
	Title       string `json:"job_title" binding:"required"`
	Description string `json:"job_description" binding:"required"`
	RoleTag     string `json:"job_role" binding:"required"`
}

// CreateJob 发布新职位，归属当前雇主。
func (h *JobHandler) CreateJob(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("identity_id", uint64(identity.ID)))

	job := database.Job{
		EmployerID:  identity.ID,
		Title:       req.Title,
		Description: req.Description,
		RoleTag:     req.RoleTag,
	}

	if err := h.db.WithContext(ctx).Create(&job).Error; err != nil {
		logger.Error("create job failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	logger.Info("job created", slog.Uint64("job_id", uint64(job.ID)))
	Created(c, gin.H{"job_id": job.ID})
}

type jobListItem struct {
	ID          uint   `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RoleTag     string `json:"role_tag"`
	Company     string `json:"company"`
}

// ListJobs 返回全部职位，并带上雇主公司名；排序由调用方自理。
func (h *JobHandler) ListJobs(c *gin.Context) {
	var items []jobListItem
	err := h.db.WithContext(c.Request.Context()).
		Model(&database.Job{}).
		Select("jobs.id, jobs.title, jobs.description, jobs.role_tag, employer_profiles.company").
		Joins("LEFT JOIN employer_profiles ON employer_profiles.identity_id = jobs.employer_id AND employer_profiles.deleted_at IS NULL").
		Scan(&items).Error
	if err != nil {
		FailErr(c, err)
		return
	}

	OK(c, gin.H{"jobs": items})
}

// GetJob 返回单个职位。
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	var job database.Job
	if err := h.db.WithContext(c.Request.Context()).First(&job, uint(jobID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		FailErr(c, err)
		return
	}

	OK(c, jobListItem{
		ID:          job.ID,
		Title:       job.Title,
		Description: job.Description,
		RoleTag:     job.RoleTag,
	})
}

// DeleteJob 删除职位并在同一事务里级联删除其全部申请，
// 不允许留下孤儿申请。仅职位归属者可删。
func (h *JobHandler) DeleteJob(c *gin.Context) {
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

	if job.EmployerID != identity.ID {
		logger.Info("delete job denied: not owner")
		Forbidden(c, "not the owner of this job")
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", job.ID).Delete(&database.Application{}).Error; err != nil {
			return err
		}
		return tx.Delete(&job).Error
	})
	if err != nil {
		logger.Error("delete job failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	logger.Info("job deleted")
	OK(c, gin.H{"deleted": true})
}

func (h *JobHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
