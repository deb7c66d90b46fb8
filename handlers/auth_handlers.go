package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"edumarket/api/middleware"
	"edumarket/api/models"
	"edumarket/api/store"
	"edumarket/api/utils"
)

type UserRepository interface {
	CreateUser(ctx context.Context, email string, hashedPassword []byte) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuthHandlers manage dashboard accounts and their session cookie.
type AuthHandlers struct {
	users        UserRepository
	tokens       *utils.TokenIssuer
	secureCookie bool
}

func NewAuthHandlers(users UserRepository, tokens *utils.TokenIssuer, secureCookie bool) *AuthHandlers {
	return &AuthHandlers{users: users, tokens: tokens, secureCookie: secureCookie}
}

func (h *AuthHandlers) ready(c *gin.Context) bool {
	if h.users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "User database not configured"})
		return false
	}
	return true
}

func (h *AuthHandlers) Signup(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Str("email", req.Email).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), req.Email, hashed)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user_email": user.Email})
}

func (h *AuthHandlers) Login(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			log.Error().Err(err).Str("email", req.Email).Msg("Failed to load user")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password)); err != nil {
		log.Info().Str("email", req.Email).Msg("Login failed: password mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.tokens.Generate(user)
	if err != nil {
		log.Error().Err(err).Int("user_id", user.ID).Msg("Failed to generate JWT")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, int(h.tokens.TTL().Seconds()), "/", "", h.secureCookie, true)
	log.Info().Int("user_id", user.ID).Msg("User logged in")
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "user_email": user.Email, "token": token})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", h.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
