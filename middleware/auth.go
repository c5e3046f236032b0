package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/engage/config"
	"github.com/cppla/engage/services"
	"github.com/cppla/engage/store"
	"github.com/cppla/engage/utils"
)

const (
	// ContextIdentityKey stores the services.Identity of the caller.
	ContextIdentityKey = "identity"
	// ContextClaimsKey stores the parsed JWT claims.
	ContextClaimsKey = "claims"
)

// Auth resolves bearer tokens to identities.
type Auth struct {
	users *store.UserStore
}

func NewAuth(users *store.UserStore) *Auth {
	return &Auth{users: users}
}

type authFailure struct {
	code    int
	message string
}

func (a *Auth) authenticate(ctx *gin.Context) (*utils.Claims, services.Identity, *authFailure) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return nil, services.Identity{}, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, services.Identity{}, &authFailure{40102, "invalid authorization header format"}
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return nil, services.Identity{}, &authFailure{40103, "empty bearer token"}
	}

	claims, err := utils.ParseToken(tokenString)
	if err != nil {
		return nil, services.Identity{}, &authFailure{40105, "invalid token"}
	}
	if utils.IsTokenRevoked(ctx.Request.Context(), claims.ID) {
		return nil, services.Identity{}, &authFailure{40104, "token revoked"}
	}

	user, err := a.users.Find(ctx.Request.Context(), claims.UserID)
	if err != nil {
		return nil, services.Identity{}, &authFailure{40106, "account not found"}
	}
	ident := services.Identity{UserID: user.ID, Username: user.Username, Email: user.Email, EmailVerified: user.EmailVerified}
	if config.Get().IsAdmin(user.Username) {
		ident.Permissions = append(ident.Permissions, services.PermManage)
	}
	return claims, ident, nil
}

// AuthRequired ensures the request is authenticated via JWT.
func (a *Auth) AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, ident, fail := a.authenticate(ctx)
		if fail == nil && claims == nil {
			fail = &authFailure{40101, "authorization header missing"}
		}
		if fail != nil {
			utils.Error(ctx, http.StatusUnauthorized, fail.code, fail.message)
			return
		}
		ctx.Set(ContextClaimsKey, claims)
		ctx.Set(ContextIdentityKey, ident)
		ctx.Next()
	}
}

// OptionalAuth attaches an identity when a valid token is present and lets
// anonymous requests through as guests. A malformed token is still rejected.
func (a *Auth) OptionalAuth() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, ident, fail := a.authenticate(ctx)
		if fail != nil {
			utils.Error(ctx, http.StatusUnauthorized, fail.code, fail.message)
			return
		}
		if claims != nil {
			ctx.Set(ContextClaimsKey, claims)
		}
		ctx.Set(ContextIdentityKey, ident)
		ctx.Next()
	}
}

// ManagerRequired must run after AuthRequired.
func ManagerRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !CurrentIdentity(ctx).IsManager() {
			utils.Error(ctx, http.StatusForbidden, 40301, "moderator permission required")
			return
		}
		ctx.Next()
	}
}

// CurrentIdentity returns the caller, or a guest when unauthenticated.
func CurrentIdentity(ctx *gin.Context) services.Identity {
	if v, ok := ctx.Get(ContextIdentityKey); ok {
		if ident, ok := v.(services.Identity); ok {
			return ident
		}
	}
	return services.Identity{}
}

// CurrentClaims returns the token claims, if any.
func CurrentClaims(ctx *gin.Context) *utils.Claims {
	if v, ok := ctx.Get(ContextClaimsKey); ok {
		if c, ok := v.(*utils.Claims); ok {
			return c
		}
	}
	return nil
}
