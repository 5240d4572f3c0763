package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	"github.com/marquee/catalog/pkg/db/pagination"
)

type createMovieRequest struct {
	Title       string                   `json:"title"`
	Description *string                  `json:"description"`
	Type        string                   `json:"type"`
	ReleaseDate *time.Time               `json:"release_date"`
	CoverImage  *string                  `json:"cover_image"`
	Cast        []moviedomain.CastMember `json:"cast"`
	Genres      []string                 `json:"genres"`
	Metadata    map[string]any           `json:"metadata"`
}

type updateMovieRequest struct {
	Title       *string                  `json:"title"`
	Description *string                  `json:"description"`
	Type        *string                  `json:"type"`
	ReleaseDate *time.Time               `json:"release_date"`
	CoverImage  *string                  `json:"cover_image"`
	Cast        []moviedomain.CastMember `json:"cast"`
	Genres      []string                 `json:"genres"`
}

func (s *Server) CreateMovie(c *gin.Context) {
	var req createMovieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	contentType, err := parseContentType(req.Type)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.movieSvc.Create(c.Request.Context(), moviedomain.CreateRequest{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Type:        contentType,
		ReleaseDate: req.ReleaseDate,
		CoverImage:  req.CoverImage,
		Cast:        req.Cast,
		Genres:      req.Genres,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) UpdateMovie(c *gin.Context) {
	var req updateMovieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var contentType *moviedomain.ContentType
	if req.Type != nil {
		parsed, err := parseContentType(*req.Type)
		if err != nil || parsed == "" {
			AbortWithError(c, moviedomain.ErrInvalidType)
			return
		}
		contentType = &parsed
	}

	resp, err := s.movieSvc.Update(c.Request.Context(), moviedomain.UpdateRequest{
		ID:          strings.TrimSpace(c.Param("id")),
		Title:       req.Title,
		Description: req.Description,
		Type:        contentType,
		ReleaseDate: req.ReleaseDate,
		CoverImage:  req.CoverImage,
		Cast:        req.Cast,
		Genres:      req.Genres,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetMovie(c *gin.Context) {
	resp, err := s.movieSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMovies(c *gin.Context) {
	var query struct {
		Type string `form:"type"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	contentType, err := parseContentType(query.Type)
	if err != nil {
		AbortWithError(c, newValidationError("type", "invalid_type", "type must be movie or tv_show"))
		return
	}

	resp, err := s.movieSvc.List(c.Request.Context(), moviedomain.ListRequest{
		Type:       contentType,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetMovieStatistics serves the last synchronized aggregate, which may lag
// recent submissions.
func (s *Server) GetMovieStatistics(c *gin.Context) {
	resp, err := s.movieSvc.Statistics(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
