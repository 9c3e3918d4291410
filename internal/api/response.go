package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"jobbridge/internal/api/middleware"
	"jobbridge/internal/errcode"
)

// 能力边界统一返回判别式结果：{ok:true,data} 或 {ok:false,error{kind,message}}。

// OK 写出成功结果。
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

// Created 写出创建成功结果。
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"ok": true, "data": data})
}

// Fail 按类别写出失败结果。
func Fail(c *gin.Context, kind errcode.Kind, message string) {
	c.JSON(errcode.HTTPStatus(kind), gin.H{
		"ok":    false,
		"error": gin.H{"kind": kind, "message": message},
	})
}

// FailErr 翻译内部错误后写出失败结果。Store 与未知错误
// 记录日志并隐藏细节，绝不把原始错误透给客户端。
func FailErr(c *gin.Context, err error) {
	kind := errcode.KindOf(err)
	message := "internal error"
	var e *errcode.Error
	if errors.As(err, &e) && kind != errcode.Store {
		message = e.Message
	}
	if kind == errcode.Store {
		middleware.LoggerFromContext(c).Error("store error", slog.Any("error", err))
	}
	c.JSON(errcode.HTTPStatus(kind), gin.H{
		"ok":    false,
		"error": gin.H{"kind": kind, "message": message},
	})
}

func Unauthenticated(c *gin.Context)        { Fail(c, errcode.Unauthenticated, "unauthenticated") }
func BadRequest(c *gin.Context, msg string) { Fail(c, errcode.Validation, msg) }
func Forbidden(c *gin.Context, msg string)  { Fail(c, errcode.Forbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Fail(c, errcode.NotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Fail(c, errcode.Conflict, msg) }
