// ============================================
// 文件: api/auth_handlers.go
// 注册、登录、刷新Token
// ============================================
package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// register 注册新用户
func (s *APIServer) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "invalid request: " + err.Error(),
		})
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		log.Printf("Failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to create user",
		})
		return
	}

	user, err := s.storage.CreateUser(req.Username, req.Email, hash)
	if err != nil {
		c.JSON(http.StatusConflict, Response{
			Code:    409,
			Message: "username already exists",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data:    user,
	})
}

// login 登录并签发Token
func (s *APIServer) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "invalid request: " + err.Error(),
		})
		return
	}

	user, passwordHash, err := s.storage.GetUserByUsername(req.Username)
	if err != nil || !CheckPassword(passwordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, Response{
			Code:    401,
			Message: "invalid username or password",
		})
		return
	}

	token, err := GenerateToken(user.ID, user.Username)
	if err != nil {
		log.Printf("Failed to generate token: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to generate token",
		})
		return
	}
	refreshToken, err := GenerateRefreshToken(user.ID)
	if err != nil {
		log.Printf("Failed to generate refresh token: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data: AuthResponse{
			Token:        token,
			RefreshToken: refreshToken,
			ExpiresIn:    int64(TokenExpireDuration.Seconds()),
			User:         *user,
		},
	})
}

// refreshToken 用刷新Token换取新的访问Token
func (s *APIServer) refreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Message: "invalid request: " + err.Error(),
		})
		return
	}

	userID, err := ParseRefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{
			Code:    401,
			Message: "invalid refresh token",
		})
		return
	}

	user, err := s.storage.GetUserByID(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{
			Code:    401,
			Message: "user not found",
		})
		return
	}

	token, err := GenerateToken(user.ID, user.Username)
	if err != nil {
		log.Printf("Failed to generate token: %v", err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Message: "failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data: gin.H{
			"token":      token,
			"expires_in": int64(TokenExpireDuration.Seconds()),
		},
	})
}

// currentUser 返回当前登录用户
func (s *APIServer) currentUser(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, Response{
			Code:    401,
			Message: "not authenticated",
		})
		return
	}

	user, err := s.storage.GetUserByID(userID.(uint))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{
			Code:    404,
			Message: "user not found",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Message: "success",
		Data:    user,
	})
}
