package api

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/models"
)

// handleInitiate starts the OAuth flow and returns the consent URL the
// caller should redirect the user to.
func (s *Server) handleInitiate(c *gin.Context) {
	principalID := c.Param("principal")
	if principalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "principal is required"})
		return
	}

	authURL, err := s.connect.InitiateAuthorization(c.Request.Context(), principalID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"principal_id":      principalID,
		"authorization_url": authURL,
	})
}

// handleCallback redeems the provider's redirect. The provider may send an
// error parameter instead of a code when the user denied consent.
func (s *Server) handleCallback(c *gin.Context) {
	if provErr := c.Query("error"); provErr != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "authorization denied",
			"description": c.Query("error_description"),
		})
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state and code are required"})
		return
	}

	cred, err := s.connect.CompleteAuthorization(c.Request.Context(), state, code)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"principal_id": cred.PrincipalID,
		"connected":    true,
	})
}

// handleStatus reports a principal's connection state.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.connect.Status(c.Param("principal")))
}

// handleDisconnect revokes a principal's connection.
func (s *Server) handleDisconnect(c *gin.Context) {
	principalID := c.Param("principal")

	if err := s.connect.Disconnect(c.Request.Context(), principalID); err != nil {
		s.renderError(c, err)
		return
	}
	if s.cache != nil {
		s.cache.InvalidatePrefix(principalID + "/")
	}

	c.JSON(http.StatusOK, gin.H{
		"principal_id": principalID,
		"connected":    false,
	})
}

// handleData fetches a resource collection for a date range. Identical
// requests within the cache TTL are served without touching the provider.
func (s *Server) handleData(c *gin.Context) {
	principalID := c.Param("principal")
	resource := models.Resource(c.Param("resource"))
	if !resource.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown resource %q", resource)})
		return
	}

	rng, err := parseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.cache != nil && s.cfg.Cache.Enabled {
		key := fmt.Sprintf("%s/%s/%d/%d", principalID, resource, rng.Start.Unix(), rng.End.Unix())
		body, err := s.cache.GetOrFetch(c.Request.Context(), key, s.cfg.Cache.TTL, func(ctx context.Context) ([]byte, error) {
			recs, err := s.crawler.Collect(ctx, principalID, resource, rng)
			if err != nil {
				return nil, err
			}
			return marshalDataResponse(principalID, resource, recs)
		})
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	records, err := s.crawler.Collect(c.Request.Context(), principalID, resource, rng)
	if err != nil {
		s.renderError(c, err)
		return
	}
	body, err := marshalDataResponse(principalID, resource, records)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

// marshalDataResponse builds the data payload once so cached and uncached
// paths serve byte-identical bodies.
func marshalDataResponse(principalID string, resource models.Resource, records []models.RawRecord) ([]byte, error) {
	if records == nil {
		records = []models.RawRecord{}
	}
	return json.Marshal(gin.H{
		"principal_id": principalID,
		"resource":     resource,
		"count":        len(records),
		"data":         records,
	})
}

// renderError maps internal error types onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	var (
		notFound    *errors.ErrCredentialNotFound
		reauth      *errors.ErrReauthRequired
		rateLimited *errors.ErrRateLimited
		circuitOpen *errors.ErrCircuitOpen
		unavailable *errors.ErrProviderUnavailable
		provCall    *errors.ErrProviderCall
		stateErr    *errors.ErrStateMismatch
	)

	switch {
	case goerrors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_connected"})
	case goerrors.As(err, &reauth):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "reauth_required"})
	case goerrors.As(err, &rateLimited):
		if rateLimited.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "code": "rate_limited"})
	case goerrors.As(err, &circuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "circuit_open"})
	case goerrors.As(err, &unavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "provider_unavailable"})
	case goerrors.As(err, &provCall):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "provider_error"})
	case goerrors.As(err, &stateErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_state"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseRange(start, end string) (models.DateRange, error) {
	if start == "" || end == "" {
		return models.DateRange{}, fmt.Errorf("start and end query parameters are required (RFC3339)")
	}
	from, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("invalid start: %v", err)
	}
	to, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return models.DateRange{}, fmt.Errorf("invalid end: %v", err)
	}

	rng := models.DateRange{Start: from, End: to}
	if err := rng.Validate(); err != nil {
		return models.DateRange{}, err
	}
	return rng, nil
}
