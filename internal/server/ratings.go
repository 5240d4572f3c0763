package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"github.com/marquee/catalog/pkg/db/pagination"
)

type submitRatingRequest struct {
	Rating    any    `json:"rating"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// SubmitRating accepts a rating against the cache only. The client address
// and user agent come from the request context.
func (s *Server) SubmitRating(c *gin.Context) {
	var req submitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ratingSvc.Submit(c.Request.Context(), ratingdomain.SubmitRequest{
		MovieID:   strings.TrimSpace(c.Param("id")),
		Rating:    req.Rating,
		SessionID: strings.TrimSpace(req.SessionID),
		UserID:    strings.TrimSpace(req.UserID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListRatings(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ratingSvc.List(c.Request.Context(), ratingdomain.ListRatingsRequest{
		MovieID:    strings.TrimSpace(c.Param("id")),
		Pagination: query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
