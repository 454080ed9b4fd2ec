package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dinesmartlab/dinesmart/backend/internal/auth"
	"github.com/dinesmartlab/dinesmart/backend/internal/catalog"
	"github.com/dinesmartlab/dinesmart/backend/internal/reviews"
)

const (
	userIDContextKey   = "dinesmart_user_id"
	userNameContextKey = "dinesmart_user_name"
)

var (
	errMissingSessionIssuer  = errors.New("session issuer dependency required")
	errMissingCatalogService = errors.New("catalog service dependency required")
	errMissingReviewService  = errors.New("review service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// SessionManager issues and validates review-authorship session tokens.
type SessionManager interface {
	IssueSessionToken(identity auth.Identity) (string, int64, error)
	ValidateToken(token string) (auth.Identity, error)
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	Sessions SessionManager
	Catalog  *catalog.Service
	Reviews  *reviews.Service
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the restaurant and review
// repositories.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionIssuer
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalogService
	}
	if deps.Reviews == nil {
		return nil, errMissingReviewService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions: deps.Sessions,
		catalog:  deps.Catalog,
		reviews:  deps.Reviews,
		logger:   logger,
	}

	router.POST("/auth/session", handler.handleCreateSession)
	router.GET("/restaurants", handler.handleListRestaurants)
	router.GET("/restaurants/:id", handler.handleGetRestaurant)
	router.GET("/restaurants/:id/reviews", handler.handleListReviews)
	router.GET("/cuisines", handler.handleListCuisines)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/restaurants", handler.handleAddRestaurant)
	protected.POST("/restaurants/sample", handler.handleLoadSampleData)
	protected.DELETE("/restaurants", handler.handleDeleteAllRestaurants)
	protected.POST("/restaurants/:id/reviews", handler.handleAddReview)
	protected.DELETE("/reviews/:id", handler.handleDeleteReview)
	protected.POST("/reviews/sync", handler.handleSyncReviews)

	return router, nil
}

type httpHandler struct {
	sessions SessionManager
	catalog  *catalog.Service
	reviews  *reviews.Service
	logger   *zap.Logger
}

type sessionRequestPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	// An empty or absent body is a valid anonymous sign-in.
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		request = sessionRequestPayload{}
	}

	token, expiresIn, err := h.sessions.IssueSessionToken(auth.Identity{
		UserID:      request.UserID,
		DisplayName: request.UserName,
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleListRestaurants(c *gin.Context) {
	filter := catalog.Filter{
		Query:   c.Query("q"),
		Cuisine: c.Query("cuisine"),
	}
	if raw := c.Query("min_rating"); raw != "" {
		minRating, err := strconv.Atoi(raw)
		if err != nil || minRating < 0 || minRating > 5 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_min_rating"})
			return
		}
		filter.MinRating = minRating
	}

	restaurants := filter.Apply(h.catalog.ListRestaurants(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{"restaurants": restaurants})
}

func (h *httpHandler) handleGetRestaurant(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	restaurant := h.catalog.GetByID(c.Request.Context(), id)
	if restaurant == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "restaurant_not_found"})
		return
	}
	c.JSON(http.StatusOK, restaurant)
}

func (h *httpHandler) handleListCuisines(c *gin.Context) {
	restaurants := h.catalog.ListRestaurants(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cuisines": catalog.Cuisines(restaurants)})
}

type restaurantRequestPayload struct {
	ID      int      `json:"id" binding:"required"`
	Name    string   `json:"name" binding:"required"`
	Tags    string   `json:"tags"`
	Rating  int      `json:"rating"`
	Address string   `json:"address"`
	Phone   string   `json:"phone"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Image   *string  `json:"image"`
}

func (h *httpHandler) handleAddRestaurant(c *gin.Context) {
	var request restaurantRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Rating < 0 || request.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rating"})
		return
	}

	restaurant := catalog.Restaurant{
		ID:        request.ID,
		Name:      request.Name,
		Tags:      request.Tags,
		Rating:    request.Rating,
		Address:   request.Address,
		Phone:     request.Phone,
		Latitude:  request.Lat,
		Longitude: request.Lng,
		Image:     request.Image,
	}
	if err := h.catalog.Insert(c.Request.Context(), restaurant); err != nil {
		h.logger.Error("failed to insert restaurant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insert_failed"})
		return
	}
	c.JSON(http.StatusCreated, restaurant)
}

func (h *httpHandler) handleLoadSampleData(c *gin.Context) {
	if err := h.catalog.LoadSampleData(c.Request.Context()); err != nil {
		h.logger.Error("failed to load sample data", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteAllRestaurants(c *gin.Context) {
	if err := h.catalog.DeleteAll(c.Request.Context()); err != nil {
		h.logger.Error("failed to delete restaurants", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type reviewListResponsePayload struct {
	Reviews       []reviews.Review `json:"reviews"`
	AverageRating float64          `json:"average_rating"`
	Count         int64            `json:"count"`
}

func (h *httpHandler) handleListReviews(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	current := h.reviews.ListLocal(ctx, id)
	average, err := h.reviews.AverageRating(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate_failed"})
		return
	}
	count, err := h.reviews.Count(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregate_failed"})
		return
	}

	c.JSON(http.StatusOK, reviewListResponsePayload{
		Reviews:       current,
		AverageRating: average,
		Count:         count,
	})
}

type reviewRequestPayload struct {
	Rating    float64 `json:"rating" binding:"required"`
	Comment   string  `json:"comment"`
	Timestamp int64   `json:"timestamp"`
}

func (h *httpHandler) handleAddReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var request reviewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Rating < 1 || request.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rating"})
		return
	}
	if h.catalog.GetByID(c.Request.Context(), id) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "restaurant_not_found"})
		return
	}

	review := reviews.Review{
		RestaurantID: id,
		Rating:       request.Rating,
		Comment:      request.Comment,
		Timestamp:    request.Timestamp,
	}
	stored, err := h.reviews.AddReview(
		c.Request.Context(),
		review,
		c.GetString(userIDContextKey),
		c.GetString(userNameContextKey),
	)
	if err != nil {
		h.logger.Error("failed to add review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "review_add_failed"})
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *httpHandler) handleDeleteReview(c *gin.Context) {
	rawID := c.Param("id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return
	}

	review, err := h.reviews.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("failed to load review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "review_delete_failed"})
		return
	}
	if review == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "review_not_found"})
		return
	}
	if review.UserID != c.GetString(userIDContextKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_review_author"})
		return
	}

	if err := h.reviews.DeleteReview(c.Request.Context(), *review); err != nil {
		h.logger.Error("failed to delete review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "review_delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSyncReviews(c *gin.Context) {
	synced, err := h.reviews.SyncPending(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to sync pending reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": synced})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, identity.UserID)
	c.Set(userNameContextKey, identity.DisplayName)
	c.Next()
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}
