package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/api/response"
	"github.com/mwqlight/auto-value-pliot/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Handler 提供注册与登录接口。
type Handler struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(db *gorm.DB, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=6"`
	Nickname string `json:"nickname"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

type customClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Register 创建新用户。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(strings.ToLower(req.Username))

	var existing model.User
	err := h.db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		response.Error(c, http.StatusConflict, "用户名已存在")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		response.Error(c, http.StatusInternalServerError, "query user failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "hash password failed")
		return
	}

	user := model.User{
		Username: username,
		Password: string(hash),
		Nickname: req.Nickname,
		Role:     "user",
	}
	if err := h.db.Create(&user).Error; err != nil {
		h.logger.Error("create user failed",
			slog.String("username", username),
			slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "create user failed")
		return
	}

	h.logger.Info("user registered", slog.String("username", username))
	response.OKMessage(c, "注册成功", nil)
}

// Login 校验用户并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(strings.ToLower(req.Username))

	var user model.User
	if err := h.db.Where("username = ?", username).First(&user).Error; err != nil {
		response.Error(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		response.Error(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	token, err := h.issueToken(user.ID, user.Role)
	if err != nil {
		h.logger.Error("sign token failed",
			slog.String("username", username),
			slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "sign token failed")
		return
	}

	h.logger.Info("user logged in",
		slog.String("username", username),
		slog.String("role", user.Role))
	response.OKMessage(c, "登录成功", loginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Nickname: user.Nickname,
		Role:     user.Role,
	})
}

func (h *Handler) issueToken(userID uint, role string) (string, error) {
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
