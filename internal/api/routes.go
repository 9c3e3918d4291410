package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobbridge/internal/api/middleware"
	"jobbridge/internal/auth"
	"jobbridge/internal/database"
	"jobbridge/internal/ranking"
)

const defaultLoginRateLimitPerHour = 30

// RegisterRoutes 注册 API 路由。每个能力都先经过会话解析，
// 再按需叠加角色门两层检查；归属检查留在各处理器内。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	sessions *auth.SessionStore,
	verifier *auth.Verifier,
	rankingClient *ranking.Client,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
	maxResumeBytes int64,
	clamdAddr string,
) {
	authHandler := NewAuthHandler(db, verifier, sessions, redisClient, logger, defaultLoginRateLimitPerHour)
	profileHandler := NewProfileHandler(db, logger, maxResumeBytes, clamdAddr)
	jobHandler := NewJobHandler(db, logger)
	applicationHandler := NewApplicationHandler(db, logger)
	rankingHandler := NewRankingHandler(db, rankingClient, logger)

	authRequired := middleware.AuthMiddleware(sessions, db)
	authOptional := middleware.OptionalAuthMiddleware(sessions, db)
	seekerOnly := middleware.RequireRole(database.RoleJobSeeker)
	employerOnly := middleware.RequireRole(database.RoleEmployer)

	v1 := router.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.GET("/status", authOptional, authHandler.Status)
			// 登出幂等：令牌已失效时依旧成功
			authGroup.POST("/logout", authOptional, authHandler.Logout)
		}

		v1.POST("/roles", authRequired, authHandler.ChooseRole)

		seekers := v1.Group("/seekers")
		seekers.Use(authRequired)
		{
			seekers.POST("", seekerOnly, profileHandler.CreateSeekerProfile)
			seekers.GET("/me", seekerOnly, profileHandler.SeekerDashboard)
			seekers.GET("/me/resume", seekerOnly, profileHandler.MyResume)
		}

		// 与 /seekers/me 的静态段分开注册，避免与参数段冲突
		v1.GET("/resumes/:id", authRequired, profileHandler.SeekerResume)

		employers := v1.Group("/employers")
		employers.Use(authRequired, employerOnly)
		{
			employers.POST("", profileHandler.CreateEmployerProfile)
			employers.GET("/me", profileHandler.EmployerDashboard)
		}

		jobs := v1.Group("/jobs")
		jobs.Use(authRequired)
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:id", jobHandler.GetJob)
			jobs.POST("", employerOnly, jobHandler.CreateJob)
			jobs.DELETE("/:id", employerOnly, jobHandler.DeleteJob)
			jobs.POST("/:id/apply", seekerOnly, applicationHandler.Apply)
			jobs.GET("/:id/applicants", employerOnly, applicationHandler.ListApplicants)
			jobs.POST("/:id/rank", employerOnly, rankingHandler.RankJob)
			jobs.GET("/:id/report", employerOnly, rankingHandler.FetchReport)
		}

		v1.PATCH("/applications/:id/status", authRequired, employerOnly, applicationHandler.SetStatus)
	}
}
