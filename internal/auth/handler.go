package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joinup-app/backend/internal/models"
	"github.com/joinup-app/backend/pkg/response"
	"github.com/joinup-app/backend/pkg/storage"
	"github.com/joinup-app/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	FullName string `json:"full_name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest is the body for PUT /profile.
type UpdateProfileRequest struct {
	FullName  string `json:"full_name" binding:"required"`
	Bio       string `json:"bio"`
	AvatarURL string `json:"avatar_url"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates an auth handler. s3 may be nil when object storage is
// not configured; the avatar upload endpoint then returns 503.
func NewHandler(repo *Repository, jwt *JWTService, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, s3: s3, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	_, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err == nil {
		response.BadRequest(c, "email already registered")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.FullName)
	if err != nil {
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, response.Body{Success: true, Data: TokenResponse{Token: token, User: user.ToPublic()}})
}

// Me handles GET /profile.
func (h *Handler) Me(c *gin.Context) {
	userID := c.MustGet(ContextUserID).(uuid.UUID)
	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Internal(c, "failed to load user")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: user.ToPublic()})
}

// UpdateMe handles PUT /profile.
func (h *Handler) UpdateMe(c *gin.Context) {
	userID := c.MustGet(ContextUserID).(uuid.UUID)
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.repo.UpdateProfile(c.Request.Context(), userID, UpdateProfileParams{
		FullName:  req.FullName,
		Bio:       req.Bio,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Internal(c, "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: user.ToPublic()})
}

// AvatarUploadRequest is the body for POST /profile/avatar-upload.
type AvatarUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// AvatarUploadURL handles POST /profile/avatar-upload. It returns a pre-signed
// PUT URL the client uploads the avatar to directly, plus the public URL to
// store via PUT /profile once the upload completes.
func (h *Handler) AvatarUploadURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "avatar storage not configured")
		return
	}
	userID := c.MustGet(ContextUserID).(uuid.UUID)
	var req AvatarUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateImageFileType(req.ContentType, req.Filename) {
		response.BadRequest(c, "unsupported image type")
		return
	}

	key := storage.AvatarKey(userID.String(), uuid.New().String()+"-"+req.Filename)
	uploadURL, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), h.s3.ImagesBucket(), key, req.ContentType, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign avatar upload failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to create upload url")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: gin.H{
		"upload_url": uploadURL,
		"avatar_url": h.s3.PublicObjectURL(h.s3.ImagesBucket(), key),
		"expires_in": int(h.s3.PresignExpire().Seconds()),
	}})
}

// GetUser handles GET /users/:id (public profile).
func (h *Handler) GetUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	user, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Internal(c, "failed to load user")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: user.ToPublic()})
}
