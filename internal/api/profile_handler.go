package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobbridge/internal/api/middleware"
	"jobbridge/internal/database"
)

var pdfMagic = []byte("%PDF-")

// ProfileHandler 负责求职者与雇主的建档、工作台与简历预览。
type ProfileHandler struct {
	db             *gorm.DB
	logger         *slog.Logger
	maxResumeBytes int64
	clamdAddr      string
}

// NewProfileHandler 构造档案处理器。
func NewProfileHandler(db *gorm.DB, logger *slog.Logger, maxResumeBytes int64, clamdAddr string) *ProfileHandler {
	return &ProfileHandler{
		db:             db,
		logger:         logger,
		maxResumeBytes: maxResumeBytes,
		clamdAddr:      clamdAddr,
	}
}

// CreateSeekerProfile 处理求职者建档（multipart 表单 + 简历 PDF）。
// 每个身份至多一份档案，重复建档返回 Conflict。
func (h *ProfileHandler) CreateSeekerProfile(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("identity_id", uint64(identity.ID)))

	name := c.PostForm("name")
	college := c.PostForm("college")
	degree := c.PostForm("degree")
	graduationYearRaw := c.PostForm("graduation_year")
	if name == "" || college == "" || degree == "" || graduationYearRaw == "" {
		BadRequest(c, "name, college, degree and graduation_year are required")
		return
	}

	graduationYear, err := strconv.Atoi(graduationYearRaw)
	if err != nil || graduationYear < 1900 || graduationYear > time.Now().Year()+10 {
		BadRequest(c, "graduation_year must be a plausible year")
		return
	}

	file, err := c.FormFile("resume")
	if err != nil {
		BadRequest(c, "resume file is required")
		return
	}

	resumeData, err := h.readResume(c, file)
	if err != nil {
		// readResume 已写出响应
		return
	}

	var existing database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("identity_id = ?", identity.ID).First(&existing).Error; err == nil {
		logger.Info("seeker profile conflict: already exists")
		Conflict(c, "profile already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("seeker profile lookup failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	profile := database.JobSeekerProfile{
		IdentityID:     identity.ID,
		Name:           name,
		College:        college,
		Degree:         degree,
		GraduationYear: graduationYear,
		ResumeName:     file.Filename,
		ResumeData:     resumeData,
	}

	if err := h.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "profile already exists")
			return
		}
		logger.Error("create seeker profile failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	logger.Info("seeker profile created", slog.Uint64("profile_id", uint64(profile.ID)))
	Created(c, gin.H{"profile_id": profile.ID})
}

type createEmployerRequest struct {
	Name    string `json:"name" binding:"required"`
	Company string `json:"company" binding:"required"`
	Title   string `json:"title" binding:"required"`
}

// CreateEmployerProfile 处理雇主建档，规则与求职者一致。
func (h *ProfileHandler) CreateEmployerProfile(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	var req createEmployerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("identity_id", uint64(identity.ID)))

	var existing database.EmployerProfile
	if err := h.db.WithContext(ctx).Where("identity_id = ?", identity.ID).First(&existing).Error; err == nil {
		logger.Info("employer profile conflict: already exists")
		Conflict(c, "profile already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("employer profile lookup failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	profile := database.EmployerProfile{
		IdentityID: identity.ID,
		Name:       req.Name,
		Company:    req.Company,
		Title:      req.Title,
	}

	if err := h.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "profile already exists")
			return
		}
		logger.Error("create employer profile failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	logger.Info("employer profile created", slog.Uint64("profile_id", uint64(profile.ID)))
	Created(c, gin.H{"profile_id": profile.ID})
}

type jobSummary struct {
	ID          uint   `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RoleTag     string `json:"role_tag"`
}

type seekerApplicationView struct {
	ID      uint                       `json:"id"`
	Status  database.ApplicationStatus `json:"status"`
	Rank    *int                       `json:"rank"`
	Job     jobSummary                 `json:"job"`
	Applied time.Time                  `json:"applied_at"`
}

type seekerDashboardResponse struct {
	Name           string                  `json:"name"`
	College        string                  `json:"college"`
	Degree         string                  `json:"degree"`
	GraduationYear int                     `json:"graduation_year"`
	ResumeName     string                  `json:"resume_name"`
	Applications   []seekerApplicationView `json:"applications"`
}

// SeekerDashboard 返回求职者档案及其全部投递（含状态与排名）。
// 未建档返回 NotFound，前端据此跳转建档页。
func (h *ProfileHandler) SeekerDashboard(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	ctx := c.Request.Context()

	var profile database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("identity_id = ?", identity.ID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "profile not found")
			return
		}
		FailErr(c, err)
		return
	}

	var applications []database.Application
	if err := h.db.WithContext(ctx).
		Preload("Job").
		Where("seeker_id = ?", identity.ID).
		Order("created_at DESC").
		Find(&applications).Error; err != nil {
		FailErr(c, err)
		return
	}

	views := make([]seekerApplicationView, 0, len(applications))
	for _, app := range applications {
		views = append(views, seekerApplicationView{
			ID:     app.ID,
			Status: app.Status,
			Rank:   app.Rank,
			Job: jobSummary{
				ID:          app.Job.ID,
				Title:       app.Job.Title,
				Description: app.Job.Description,
				RoleTag:     app.Job.RoleTag,
			},
			Applied: app.CreatedAt,
		})
	}

	OK(c, seekerDashboardResponse{
		Name:           profile.Name,
		College:        profile.College,
		Degree:         profile.Degree,
		GraduationYear: profile.GraduationYear,
		ResumeName:     profile.ResumeName,
		Applications:   views,
	})
}

type employerDashboardResponse struct {
	Name    string       `json:"name"`
	Company string       `json:"company"`
	Title   string       `json:"title"`
	Jobs    []jobSummary `json:"jobs"`
}

// EmployerDashboard 返回雇主档案及其全部在招职位。
func (h *ProfileHandler) EmployerDashboard(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	ctx := c.Request.Context()

	var profile database.EmployerProfile
	if err := h.db.WithContext(ctx).Where("identity_id = ?", identity.ID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "profile not found")
			return
		}
		FailErr(c, err)
		return
	}

	var jobs []database.Job
	if err := h.db.WithContext(ctx).
		Where("employer_id = ?", identity.ID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		FailErr(c, err)
		return
	}

	summaries := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary{
			ID:          job.ID,
			Title:       job.Title,
			Description: job.Description,
			RoleTag:     job.RoleTag,
		})
	}

	OK(c, employerDashboardResponse{
		Name:    profile.Name,
		Company: profile.Company,
		Title:   profile.Title,
		Jobs:    summaries,
	})
}

// MyResume 以内联 PDF 流式返回当前求职者的简历。
func (h *ProfileHandler) MyResume(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}
	h.streamResume(c, identity.ID)
}

// SeekerResume 返回指定求职者的简历，供雇主审阅；仅要求已认证。
func (h *ProfileHandler) SeekerResume(c *gin.Context) {
	seekerID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid seeker id")
		return
	}
	h.streamResume(c, uint(seekerID))
}

func (h *ProfileHandler) streamResume(c *gin.Context, identityID uint) {
	var profile database.JobSeekerProfile
	if err := h.db.WithContext(c.Request.Context()).
		Select("resume_name", "resume_data").
		Where("identity_id = ?", identityID).
		First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return
		}
		FailErr(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", profile.ResumeName))
	c.Data(http.StatusOK, "application/pdf", profile.ResumeData)
}

// readResume 校验并读入上传的简历：大小、PDF 魔数，以及可选的病毒扫描。
// 校验失败时直接写出响应并返回错误。
func (h *ProfileHandler) readResume(c *gin.Context, file *multipart.FileHeader) ([]byte, error) {
	if h.maxResumeBytes > 0 && file.Size > h.maxResumeBytes {
		BadRequest(c, fmt.Sprintf("resume exceeds %d bytes", h.maxResumeBytes))
		return nil, errors.New("resume too large")
	}

	reader, err := file.Open()
	if err != nil {
		FailErr(c, err)
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, h.maxResumeBytes+1))
	if err != nil {
		FailErr(c, err)
		return nil, err
	}
	if h.maxResumeBytes > 0 && int64(len(data)) > h.maxResumeBytes {
		BadRequest(c, fmt.Sprintf("resume exceeds %d bytes", h.maxResumeBytes))
		return nil, errors.New("resume too large")
	}

	if !bytes.HasPrefix(data, pdfMagic) {
		BadRequest(c, "resume must be a PDF document")
		return nil, errors.New("resume not a pdf")
	}

	if h.clamdAddr != "" {
		if err := h.scanResume(c, data); err != nil {
			return nil, err
		}
	}

	return data, nil
}

func (h *ProfileHandler) scanResume(c *gin.Context, data []byte) error {
	clamdClient := clamd.NewClamd(h.clamdAddr)

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(bytes.NewReader(data), abortChan)
	if err != nil {
		h.loggerFromContext(c).Error("scan resume", slog.Any("error", err))
		FailErr(c, err)
		return err
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			BadRequest(c, "malicious file detected")
			return errors.New("malicious file detected")
		}
	}
	return nil
}

func (h *ProfileHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
