package authorization

import (
	"context"

	"github.com/smallbiznis/fieldclock/internal/actor"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
)

// Service decides whether the caller's role may perform action on object.
type Service interface {
	Authorize(ctx context.Context, claims actor.Claims, object string, action string) error
}

var (
	ErrInvalidActor  = apperr.New(apperr.KindUnauthenticated, "invalid_actor")
	ErrInvalidObject = apperr.New(apperr.KindInvalidArgument, "invalid_object")
	ErrInvalidAction = apperr.New(apperr.KindInvalidArgument, "invalid_action")
)
