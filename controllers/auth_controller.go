package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/middleware"
	"github.com/cppla/engage/models"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/utils"
)

const (
	tokenTTL     = 72 * time.Hour
	emailCodeTTL = 10 * time.Minute
)

// AuthController handles local and OAuth accounts. Every successful login
// with a verified email claims the guest comments filed under it.
type AuthController struct {
	db       *gorm.DB
	comments *services.CommentService
	mailer   services.Notifier
}

// NewAuthController creates an AuthController. A nil mailer disables email
// verification for local accounts.
func NewAuthController(db *gorm.DB, comments *services.CommentService, mailer services.Notifier) *AuthController {
	return &AuthController{db: db, comments: comments, mailer: mailer}
}

// Register handles local account registration with bcrypt hashing.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username      string `json:"username" binding:"required,min=2,max=32"`
		Email         string `json:"email" binding:"required,email"`
		Password      string `json:"password" binding:"required"`
		CaptchaID     string `json:"captcha_id"`
		CaptchaAnswer string `json:"captcha_answer"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if !validUsername(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username may only contain letters, digits, '-' and '_'")
		return
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40002, err.Error())
		return
	}
	cfg := config.Get()
	if cfg.Comments.CaptchaForGuests && !utils.VerifyCaptcha(strings.TrimSpace(req.CaptchaID), strings.TrimSpace(req.CaptchaAnswer)) {
		utils.Error(ctx, http.StatusBadRequest, 40042, "captcha is wrong or expired")
		return
	}

	var count int64
	if err := a.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50000, "failed to check username")
		return
	}
	if count > 0 {
		utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
		return
	}

	ip := ctx.ClientIP()
	if !utils.CooldownTry(ctx.Request.Context(), "register", ip, 30*time.Second) {
		utils.Error(ctx, http.StatusTooManyRequests, 42910, "too many requests, try again later")
		return
	}
	if !utils.DailyLimitCheck(ctx.Request.Context(), "register", ip, cfg.RegisterMaxPerIPPerDay) {
		utils.Error(ctx, http.StatusTooManyRequests, 42921, "daily registration limit reached")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to hash password")
		return
	}
	user := models.User{
		Username:     req.Username,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		Provider:     "local",
		RegisterIP:   ip,
	}
	if err := a.db.Create(&user).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to create user")
		return
	}
	utils.DailyIncrement(ctx.Request.Context(), "register", ip)

	a.completeLogin(ctx, user)
}

func validUsername(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return s != ""
}

// Login verifies user credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	a.completeLogin(ctx, user)
}

// completeLogin claims guest comments and responds with a fresh token.
func (a *AuthController) completeLogin(ctx *gin.Context, user models.User) {
	if user.EmailVerified {
		a.claim(ctx, user)
	}

	token, err := utils.GenerateToken(user.ID, user.Username, tokenTTL)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": userResponse(user)})
}

func (a *AuthController) claim(ctx *gin.Context, user models.User) int64 {
	n, err := a.comments.ClaimGuestComments(ctx.Request.Context(), user.ID, user.Email)
	if err != nil {
		utils.Sugar.Warnw("claim guest comments failed", "user_id", user.ID, "error", err)
	}
	return n
}

// SendEmailCode mails a verification code to the caller's address.
func (a *AuthController) SendEmailCode(ctx *gin.Context) {
	if a.mailer == nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50310, "email verification is not available")
		return
	}
	ident := middleware.CurrentIdentity(ctx)
	if ident.EmailVerified {
		utils.Error(ctx, http.StatusConflict, 40902, "email already verified")
		return
	}
	if strings.TrimSpace(ident.Email) == "" {
		utils.Error(ctx, http.StatusBadRequest, 40008, "account has no email")
		return
	}
	if !utils.CooldownTry(ctx.Request.Context(), "email-code", fmt.Sprint(ident.UserID), time.Minute) {
		utils.Error(ctx, http.StatusTooManyRequests, 42911, "code already sent, try again later")
		return
	}

	code, err := utils.NewVerificationCode(6)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50007, "failed to create code")
		return
	}
	utils.SaveEmailCode(ctx.Request.Context(), ident.UserID, ident.Email, code, emailCodeTTL)
	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.\n", code, int(emailCodeTTL.Minutes()))
	if err := a.mailer.Send(ctx.Request.Context(), []string{ident.Email}, "Verify your email", body); err != nil {
		utils.Sugar.Warnw("send verification email failed", "user_id", ident.UserID, "error", err)
		utils.Error(ctx, http.StatusBadGateway, 50008, "failed to send email")
		return
	}
	utils.Success(ctx, gin.H{"sent": true})
}

// VerifyEmail marks the caller's email as verified and claims the guest
// comments filed under it.
func (a *AuthController) VerifyEmail(ctx *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	ident := middleware.CurrentIdentity(ctx)
	if !utils.ConsumeEmailCode(ctx.Request.Context(), ident.UserID, ident.Email, req.Code) {
		utils.Error(ctx, http.StatusBadRequest, 40009, "code is wrong or expired")
		return
	}

	var user models.User
	if err := a.db.First(&user, ident.UserID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	if err := a.db.Model(&user).Update("email_verified", true).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50009, "failed to update user")
		return
	}
	user.EmailVerified = true
	utils.Success(ctx, gin.H{"user": userResponse(user), "claimed": a.claim(ctx, user)})
}

// Logout revokes the presented token until it expires.
func (a *AuthController) Logout(ctx *gin.Context) {
	claims := middleware.CurrentClaims(ctx)
	if claims == nil {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "invalid authorization header")
		return
	}
	expiresAt := time.Now().Add(tokenTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	utils.RevokeToken(ctx.Request.Context(), claims.ID, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current authenticated user's information.
func (a *AuthController) Me(ctx *gin.Context) {
	ident := middleware.CurrentIdentity(ctx)
	var user models.User
	if err := a.db.First(&user, ident.UserID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
		return
	}
	utils.Success(ctx, userResponse(user))
}

// OAuthRedirect generates a provider-specific authorization URL.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	provider := strings.ToLower(ctx.Param("provider"))
	cfg, err := oauthConfig(provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, err.Error())
		return
	}

	state := uuid.NewString()
	utils.SaveState(ctx.Request.Context(), state, provider, 10*time.Minute)
	utils.Success(ctx, gin.H{"authorization_url": cfg.AuthCodeURL(state), "state": state})
}

// OAuthCallback exchanges the authorization code for a user identity and issues a JWT.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	provider := strings.ToLower(ctx.Param("provider"))
	code := ctx.Query("code")
	state := ctx.Query("state")
	if code == "" || state == "" {
		utils.Error(ctx, http.StatusBadRequest, 40005, "missing code or state")
		return
	}
	if !utils.ConsumeState(ctx.Request.Context(), state, provider) {
		utils.Error(ctx, http.StatusBadRequest, 40006, "invalid or expired state")
		return
	}

	cfg, err := oauthConfig(provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40004, err.Error())
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 15*time.Second)
	defer cancel()

	token, err := cfg.Exchange(reqCtx, code)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40007, "failed to exchange code")
		return
	}
	info, err := fetchOAuthUser(reqCtx, provider, cfg.Client(reqCtx, token))
	if err != nil {
		utils.Sugar.Warnw("oauth user info failed", "provider", provider, "error", err)
		utils.Error(ctx, http.StatusBadGateway, 50005, "failed to load account from provider")
		return
	}
	user, err := a.findOrCreateOAuthUser(provider, info)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50006, "failed to persist user")
		return
	}

	a.completeLogin(ctx, *user)
}

func oauthConfig(provider string) (*oauth2.Config, error) {
	cfg := config.Get()
	switch provider {
	case "github":
		if cfg.GitHubClientID == "" || cfg.GitHubClientSecret == "" {
			return nil, fmt.Errorf("github oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/github/callback", cfg.OAuthRedirectBase),
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}, nil
	case "google":
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			return nil, fmt.Errorf("google oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  fmt.Sprintf("%s/api/v1/auth/oauth/google/callback", cfg.OAuthRedirectBase),
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

type oauthUser struct {
	ID        string
	Username  string
	Email     string
	AvatarURL string
}

func fetchOAuthUser(ctx context.Context, provider string, client *http.Client) (*oauthUser, error) {
	switch provider {
	case "github":
		return fetchGitHubUser(ctx, client)
	case "google":
		return fetchGoogleUser(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fetchGitHubUser(ctx context.Context, client *http.Client) (*oauthUser, error) {
	var payload struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, "https://api.github.com/user", &payload); err != nil {
		return nil, err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	email := ""
	if err := getJSON(ctx, client, "https://api.github.com/user/emails", &emails); err == nil {
		for _, e := range emails {
			// only a verified address may claim guest comments
			if e.Primary && e.Verified {
				email = e.Email
			}
		}
	}

	return &oauthUser{
		ID:        fmt.Sprintf("%d", payload.ID),
		Username:  payload.Login,
		Email:     email,
		AvatarURL: payload.AvatarURL,
	}, nil
}

func fetchGoogleUser(ctx context.Context, client *http.Client) (*oauthUser, error) {
	var payload struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, client, "https://www.googleapis.com/oauth2/v2/userinfo", &payload); err != nil {
		return nil, err
	}
	u := &oauthUser{ID: payload.ID, Username: payload.Name, AvatarURL: payload.Picture}
	if payload.VerifiedEmail {
		u.Email = payload.Email
	}
	if u.Username == "" {
		u.Username = strings.SplitN(payload.Email, "@", 2)[0]
	}
	return u, nil
}

func (a *AuthController) findOrCreateOAuthUser(provider string, data *oauthUser) (*models.User, error) {
	var user models.User
	err := a.db.Where("provider = ? AND provider_id = ?", provider, data.ID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Username:      a.ensureUniqueUsername(data.Username, provider, data.ID),
			Email:         strings.TrimSpace(data.Email),
			EmailVerified: strings.TrimSpace(data.Email) != "",
			Provider:      provider,
			ProviderID:    data.ID,
			AvatarURL:     data.AvatarURL,
			RegisterIP:    "oauth",
		}
		if err := a.db.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"avatar_url": data.AvatarURL}
	if email := strings.TrimSpace(data.Email); email != "" {
		updates["email"] = email
		updates["email_verified"] = true
	}
	if err := a.db.Model(&user).Updates(updates).Error; err != nil {
		utils.Sugar.Warnw("refresh oauth profile failed", "user_id", user.ID, "error", err)
		return &user, nil
	}
	if email, ok := updates["email"].(string); ok {
		user.Email, user.EmailVerified = email, true
	}
	return &user, nil
}

func sanitizeUsername(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	var b strings.Builder
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_' || r == '.' || r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func (a *AuthController) ensureUniqueUsername(base, provider, id string) string {
	base = sanitizeUsername(base)
	if base == "" {
		base = sanitizeUsername(provider + "_" + id)
	}

	candidate := base
	for suffix := 1; ; suffix++ {
		var count int64
		if err := a.db.Model(&models.User{}).Where("username = ?", candidate).Count(&count).Error; err != nil || count == 0 {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", base, suffix)
	}
}

func userResponse(user models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"username":       user.Username,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"provider":       user.Provider,
		"avatar_url":     user.AvatarURL,
		"created_at":     user.CreatedAt,
		"is_admin":       config.Get().IsAdmin(user.Username),
	}
}
