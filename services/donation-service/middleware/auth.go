package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamun007molla/blood-donation-server/services/common/auth"
	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

const ActorContextKey = "actor"

// Gateway identity headers.
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderUserRole  = "X-User-Role"
)

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Enabled() bool
	Identify(token string) (auth.Identity, error)
}

// RoleResolver looks up the stored role of a user.
type RoleResolver interface {
	RoleOf(ctx context.Context, email string) (string, error)
}

type AuthConfig struct {
	Verifier Verifier
	// TrustGatewayHeaders accepts X-User-* headers when no bearer token is
	// present. Only enable it behind a gateway that strips them from clients.
	TrustGatewayHeaders bool
	Roles               RoleResolver
	Logger              *zap.Logger
}

// Authenticate resolves the caller and stores it under ActorContextKey.
// Requests without a usable identity get 401.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		actor, ok := identify(c, cfg, log)
		if !ok {
			apperrors.Respond(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if actor.Role == "" {
			actor.Role = models.RoleDonor
			if cfg.Roles != nil {
				role, err := cfg.Roles.RoleOf(c.Request.Context(), actor.Email)
				if err != nil {
					log.Warn("Role lookup failed, defaulting to donor",
						zap.String("email", actor.Email),
						zap.Error(err),
					)
				} else if role != "" {
					actor.Role = role
				}
			}
		}

		c.Set(ActorContextKey, actor)
		c.Set("email", actor.Email)
		c.Next()
	}
}

func identify(c *gin.Context, cfg AuthConfig, log *zap.Logger) (models.Actor, bool) {
	header := c.GetHeader("Authorization")
	if token, found := strings.CutPrefix(header, "Bearer "); found {
		if cfg.Verifier == nil || !cfg.Verifier.Enabled() {
			log.Warn("Bearer token presented but no verifier configured")
			return models.Actor{}, false
		}
		id, err := cfg.Verifier.Identify(strings.TrimSpace(token))
		if err != nil {
			log.Debug("Token rejected", zap.Error(err))
			return models.Actor{}, false
		}
		return models.Actor{Email: id.Email, Name: id.Name, Role: normalizeRole(id.Role)}, true
	}

	if !cfg.TrustGatewayHeaders {
		return models.Actor{}, false
	}
	email := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserEmail)))
	if email == "" {
		return models.Actor{}, false
	}
	return models.Actor{
		Email: email,
		Name:  strings.TrimSpace(c.GetHeader(HeaderUserName)),
		Role:  normalizeRole(c.GetHeader(HeaderUserRole)),
	}, true
}

// normalizeRole drops unknown roles so they are resolved from storage.
func normalizeRole(r string) string {
	switch r = strings.ToLower(strings.TrimSpace(r)); r {
	case models.RoleAdmin, models.RoleVolunteer, models.RoleDonor:
		return r
	}
	return ""
}

// ActorFrom returns the authenticated caller.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, exists := c.Get(ActorContextKey)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok && actor.Email != ""
}

// RequireRole restricts a route to the given roles. It must run after
// Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			apperrors.Respond(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !actor.HasRole(roles...) {
			apperrors.Respond(c, apperrors.Newf(apperrors.KindForbidden, "requires role %s", strings.Join(roles, " or ")))
			c.Abort()
			return
		}
		c.Next()
	}
}
