package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Two wire formats are served. The admin API wraps payloads in Response;
// the public moderation API answers flat objects carrying "success" and, on
// failure, "error", which is the shape integrations already parse.

// Response is the admin API envelope. Code is 0 on success and the HTTP
// status otherwise.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AppError carries the HTTP status a service error should be answered with.
type AppError struct {
	Status  int
	Message string
}

func (e *AppError) Error() string { return e.Message }

func New(status int, msg string) *AppError {
	return &AppError{Status: status, Message: msg}
}

func NewBadRequest(msg string) *AppError { return New(http.StatusBadRequest, msg) }
func NewNotFound(msg string) *AppError   { return New(http.StatusNotFound, msg) }
func NewConflict(msg string) *AppError   { return New(http.StatusConflict, msg) }

// StatusOf returns the status for err: the AppError's own, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// --- admin API ---

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// Fail writes an error envelope with status as both HTTP status and code.
func Fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Code: status, Message: msg})
}

// Abort is Fail for middleware: later handlers do not run.
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: msg})
}

// Error answers err with its AppError status, or 500.
func Error(c *gin.Context, err error) {
	Fail(c, StatusOf(err), err.Error())
}

func BadRequest(c *gin.Context, msg string)  { Fail(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)    { Fail(c, http.StatusNotFound, msg) }
func ServerError(c *gin.Context, msg string) { Fail(c, http.StatusInternalServerError, msg) }

// --- moderation API ---

// APISuccess writes fields plus "success": true.
func APISuccess(c *gin.Context, status int, fields gin.H) {
	out := make(gin.H, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["success"] = true
	c.JSON(status, out)
}

// APIError writes {"success": false, "error": msg}.
func APIError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// AbortAPI is APIError for middleware.
func AbortAPI(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
