package api

import (
	"context"

	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type RequestContext struct {
	context.Context
	ec  echo.Context
	log *logrus.Entry
}

func NewRequestContext(c context.Context, ec echo.Context) *RequestContext {
	fields := logrus.Fields{
		"method":    ec.Request().Method,
		"path":      ec.Path(),
		"remote_ip": ec.RealIP(),
	}
	if id := ec.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		fields["request_id"] = id
	}

	return &RequestContext{
		Context: c,
		ec:      ec,
		log:     logrus.WithFields(fields),
	}
}

func (rc *RequestContext) L() *logrus.Entry {
	return rc.log
}

func (rc *RequestContext) EC() echo.Context {
	return rc.ec
}

// WithSession attaches the caller's identity to subsequent log lines.
func (rc *RequestContext) WithSession(s *models.Session) *RequestContext {
	if s == nil {
		return rc
	}
	rc.log = rc.log.WithFields(logrus.Fields{
		"session_id":    s.ID,
		"session_email": s.Email,
	})
	return rc
}
