package server

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrRouteNotFound.WithMessage("no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})
}
