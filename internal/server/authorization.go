package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldclock/internal/actor"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderCompanyID = "X-Company-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorIDKey = "actor_id"
)

// ActorRequired reads the caller identity set by the trusted gateway.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromHeaders(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(contextActorIDKey, claims.UserID.String())
		ctx := actor.WithClaims(c.Request.Context(), claims)
		ctx = ctxlogger.ContextWithFields(ctx,
			zap.String("company_id", claims.CompanyID.String()),
			zap.String("actor_id", claims.UserID.String()),
			zap.String("role", string(claims.Role)),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func claimsFromHeaders(c *gin.Context) (actor.Claims, error) {
	userID, err := headerID(c, HeaderActorID)
	if err != nil {
		return actor.Claims{}, err
	}
	companyID, err := headerID(c, HeaderCompanyID)
	if err != nil {
		return actor.Claims{}, err
	}
	role, err := actor.ParseRole(c.GetHeader(HeaderActorRole))
	if err != nil {
		return actor.Claims{}, apperr.ErrUnauthenticated.WithMessage("missing or unknown %s", HeaderActorRole)
	}
	return actor.Claims{UserID: userID, CompanyID: companyID, Role: role}, nil
}

func headerID(c *gin.Context, header string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.GetHeader(header))
	if raw == "" {
		return 0, apperr.ErrUnauthenticated.WithMessage("missing %s", header)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, apperr.ErrUnauthenticated.WithMessage("invalid %s", header)
	}
	return id, nil
}

// authorize gates a route on the caller's role policy.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := actor.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, apperr.ErrUnauthenticated)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), claims, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
