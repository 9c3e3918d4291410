package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobbridge/internal/api/middleware"
	"jobbridge/internal/auth"
	"jobbridge/internal/database"
	"jobbridge/internal/errcode"
)

// AuthHandler 处理登录、会话状态、角色选择与登出。
type AuthHandler struct {
	db                    *gorm.DB
	verifier              *auth.Verifier
	sessions              *auth.SessionStore
	redis                 redis.UniversalClient
	logger                *slog.Logger
	loginRateLimitPerHour int
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(db *gorm.DB, verifier *auth.Verifier, sessions *auth.SessionStore, redisClient redis.UniversalClient, logger *slog.Logger, loginRateLimitPerHour int) *AuthHandler {
	return &AuthHandler{
		db:                    db,
		verifier:              verifier,
		sessions:              sessions,
		redis:                 redisClient,
		logger:                logger,
		loginRateLimitPerHour: loginRateLimitPerHour,
	}
}

type loginRequest struct {
	Assertion string `json:"assertion" binding:"required"`
}

type identityView struct {
	ID    uint          `json:"id"`
	Email string        `json:"email"`
	Role  database.Role `json:"role"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresIn int          `json:"expires_in"`
	Identity  identityView `json:"identity"`
}

// Login 校验身份网关的登录断言，按需创建身份并签发会话令牌。
// 身份已存在时绝不改写其角色。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	// 速率限制：每 IP 每小时有限次登录尝试
	rateKey := "rate:login:" + c.ClientIP() + ":" + time.Now().UTC().Format("2006010215")
	count, err := bumpRateCounter(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		count = 0
	}
	if h.loginRateLimitPerHour > 0 && count > int64(h.loginRateLimitPerHour) {
		logger.Info("login rate limit exceeded", slog.String("ip", c.ClientIP()))
		Fail(c, errcode.RateLimited, "too many login attempts, try again later")
		return
	}

	external, err := h.verifier.Verify(req.Assertion)
	if err != nil {
		logger.Info("login assertion rejected", slog.Any("error", err))
		Unauthenticated(c)
		return
	}

	var identity database.Identity
	err = h.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", external.Provider, external.Subject).
		First(&identity).Error
	switch {
	case err == nil:
		// 已有身份：复用，角色保持不变
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = database.Identity{
			Email:    external.Email,
			Provider: external.Provider,
			Subject:  external.Subject,
			Role:     database.RoleUnset,
		}
		if err := h.db.WithContext(ctx).Create(&identity).Error; err != nil {
			logger.Error("create identity failed", slog.Any("error", err))
			FailErr(c, err)
			return
		}
		logger.Info("identity created", slog.Uint64("identity_id", uint64(identity.ID)))
	default:
		logger.Error("identity lookup failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	token, err := h.sessions.Create(ctx, identity.ID)
	if err != nil {
		logger.Error("create session failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	OK(c, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(h.sessions.TTL().Seconds()),
		Identity:  newIdentityView(identity),
	})
}

type statusResponse struct {
	Authenticated bool          `json:"authenticated"`
	Identity      *identityView `json:"identity,omitempty"`
	HasProfile    bool          `json:"has_profile"`
}

// Status 返回会话状态与入驻信息，供前端决定跳转建档页还是工作台。
func (h *AuthHandler) Status(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		OK(c, statusResponse{Authenticated: false})
		return
	}

	hasProfile, err := h.hasProfile(c, identity)
	if err != nil {
		FailErr(c, err)
		return
	}

	view := newIdentityView(identity)
	OK(c, statusResponse{
		Authenticated: true,
		Identity:      &view,
		HasProfile:    hasProfile,
	})
}

type chooseRoleRequest struct {
	Role database.Role `json:"role" binding:"required"`
}

// ChooseRole 一次性设置身份角色，unset → job_seeker|employer。
// 幂等以外的任何重设都以 Conflict 拒绝。
func (h *AuthHandler) ChooseRole(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		Unauthenticated(c)
		return
	}

	var req chooseRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if !req.Role.Valid() {
		BadRequest(c, "role must be job_seeker or employer")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("identity_id", uint64(identity.ID)))

	// 受保护更新：只有仍处于 unset 的行才会被改写
	result := h.db.WithContext(ctx).
		Model(&database.Identity{}).
		Where("id = ? AND role = ?", identity.ID, database.RoleUnset).
		Update("role", req.Role)
	if result.Error != nil {
		logger.Error("choose role failed", slog.Any("error", result.Error))
		FailErr(c, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		logger.Info("choose role conflict: role already set")
		Conflict(c, "role already set")
		return
	}

	logger.Info("role assigned", slog.String("role", string(req.Role)))
	identity.Role = req.Role
	OK(c, newIdentityView(identity))
}

// Logout 销毁会话令牌；重复登出不报错。
func (h *AuthHandler) Logout(c *gin.Context) {
	token, ok := middleware.SessionTokenFromContext(c)
	if !ok {
		token = ""
	}

	if err := h.sessions.Destroy(c.Request.Context(), token); err != nil {
		h.loggerFromContext(c).Error("destroy session failed", slog.Any("error", err))
		FailErr(c, err)
		return
	}

	OK(c, gin.H{"logged_out": true})
}

func (h *AuthHandler) hasProfile(c *gin.Context, identity database.Identity) (bool, error) {
	ctx := c.Request.Context()
	var count int64
	switch identity.Role {
	case database.RoleJobSeeker:
		if err := h.db.WithContext(ctx).Model(&database.JobSeekerProfile{}).
			Where("identity_id = ?", identity.ID).Count(&count).Error; err != nil {
			return false, err
		}
	case database.RoleEmployer:
		if err := h.db.WithContext(ctx).Model(&database.EmployerProfile{}).
			Where("identity_id = ?", identity.ID).Count(&count).Error; err != nil {
			return false, err
		}
	default:
		return false, nil
	}
	return count > 0, nil
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

func newIdentityView(identity database.Identity) identityView {
	return identityView{
		ID:    identity.ID,
		Email: identity.Email,
		Role:  identity.Role,
	}
}
