package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jobbridge/internal/api/middleware"
	"jobbridge/internal/database"
	"jobbridge/internal/errcode"
	"jobbridge/internal/metrics"
	"jobbridge/internal/ranking"
)

// RankingHandler 把排名编排和报表透传暴露为 API。
// 相似度计算完全由外部排名服务负责，这里只做取数、调用与回写。
type RankingHandler struct {
	db     *gorm.DB
	client *ranking.Client
	logger *slog.Logger
}

// NewRankingHandler 构造排名处理器。
func NewRankingHandler(db *gorm.DB, client *ranking.Client, logger *slog.Logger) *RankingHandler {
	return &RankingHandler{db: db, client: client, logger: logger}
}

// RankJob 触发一次排名：收集职位描述与全部申请人简历交给排名服务，
// 把返回的名次在单个事务里整体回写（先清后写，幂等可重入）。
// 上游不可达或响应畸形时不落任何部分写入。
func (h *RankingHandler) RankJob(c *gin.Context) {
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
		Forbidden(c, "not the owner of this job")
		return
	}

	var applications []database.Application
	if err := h.db.WithContext(ctx).Where("job_id = ?", job.ID).Find(&applications).Error; err != nil {
		FailErr(c, err)
		return
	}

	if len(applications) == 0 {
		OK(c, ranking.RankResult{RankedCount: 0, Top: []ranking.RankEntry{}})
		return
	}

	seekerIDs := make([]uint, 0, len(applications))
	for _, app := range applications {
		seekerIDs = append(seekerIDs, app.SeekerID)
	}

	var profiles []database.JobSeekerProfile
	if err := h.db.WithContext(ctx).Where("identity_id IN ?", seekerIDs).Find(&profiles).Error; err != nil {
		FailErr(c, err)
		return
	}
	profileBySeeker := make(map[uint]database.JobSeekerProfile, len(profiles))
	for _, p := range profiles {
		profileBySeeker[p.IdentityID] = p
	}

	applicants := make([]ranking.Applicant, 0, len(applications))
	for _, app := range applications {
		profile := profileBySeeker[app.SeekerID]
		applicants = append(applicants, ranking.Applicant{
			SeekerID:   app.SeekerID,
			ResumeName: profile.ResumeName,
			ResumeData: profile.ResumeData,
		})
	}

	result, err := h.client.Rank(ctx, ranking.RankRequest{
		JobID:       job.ID,
		Description: job.Description,
		Applicants:  applicants,
	})
	metrics.ObserveRankingCall("rank", err)
	if err != nil {
		logger.Error("ranking call failed", slog.Any("error", err))
		FailErr(c, errcode.Wrap(err, errcode.Upstream, "ranking service unavailable, try again later"))
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先清空该职位的全部名次，再写入新名次：
		// 重复触发等价于整体替换，响应中缺席的申请人保持未排名
		if err := tx.Model(&database.Application{}).
			Where("job_id = ?", job.ID).
			Updates(map[string]any{"rank": nil, "rank_details": nil}).Error; err != nil {
			return err
		}

		for _, entry := range result.Top {
			details, err := json.Marshal(gin.H{
				"score":          entry.Score,
				"cosine_score":   entry.CosineScore,
				"skill_ratio":    entry.SkillRatio,
				"matched_skills": entry.MatchedSkills,
			})
			if err != nil {
				return err
			}
			if err := tx.Model(&database.Application{}).
				Where("job_id = ? AND seeker_id = ?", job.ID, entry.SeekerID).
				Updates(map[string]any{
					"rank":         entry.Rank,
					"rank_details": datatypes.JSON(details),
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("rank write-back failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	logger.Info("job ranked", slog.Int("ranked_count", result.RankedCount))
	OK(c, result)
}

// FetchReport 透传排名服务生成的报表（HTML 或下载文件），不改动负载。
func (h *RankingHandler) FetchReport(c *gin.Context) {
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

	download := c.Query("download") == "1"
	resp, err := h.client.FetchReport(ctx, job.ID, download)
	metrics.ObserveRankingCall("report", err)
	if err != nil {
		h.loggerFromContext(c).Error("fetch report failed", slog.Any("error", err))
		FailErr(c, errcode.Wrap(err, errcode.Upstream, "report service unavailable, try again later"))
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extraHeaders := map[string]string{}
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		extraHeaders["Content-Disposition"] = disposition
	}

	c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, extraHeaders)
}

func (h *RankingHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
