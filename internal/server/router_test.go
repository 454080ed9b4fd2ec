package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dinesmartlab/dinesmart/backend/internal/auth"
	"github.com/dinesmartlab/dinesmart/backend/internal/catalog"
	"github.com/dinesmartlab/dinesmart/backend/internal/database"
	"github.com/dinesmartlab/dinesmart/backend/internal/reviews"
	"github.com/dinesmartlab/dinesmart/backend/internal/stream"
)

const routerTestSeed = `[
  {"id": 1, "name": "Trattoria Bella", "tags": "Italian, Pasta", "rating": 4, "address": "12 Via Roma"},
  {"id": 2, "name": "Sakura House", "tags": "Japanese, Sushi", "rating": 5, "address": "88 Cherry Lane"}
]`

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "router_test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
	})

	hub := stream.NewHub()
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database: db,
		Hub:      hub,
		Seed:     []byte(routerTestSeed),
	})
	if err != nil {
		t.Fatalf("failed to build catalog service: %v", err)
	}
	reviewService, err := reviews.NewService(reviews.ServiceConfig{
		Database: db,
		Remote:   reviews.NewMemoryRemote(nil),
		Hub:      hub,
	})
	if err != nil {
		t.Fatalf("failed to build review service: %v", err)
	}

	issuer := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "dinesmart-auth",
		Audience:      "dinesmart-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		Sessions: issuer,
		Catalog:  catalogService,
		Reviews:  reviewService,
	})
	if err != nil {
		t.Fatalf("failed to build http handler: %v", err)
	}
	return handler
}

func performRequest(t *testing.T, handler http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func obtainSessionToken(t *testing.T, handler http.Handler, body any) string {
	t.Helper()
	recorder := performRequest(t, handler, http.MethodPost, "/auth/session", "", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected session issue to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode session response: %v", err)
	}
	if response.AccessToken == "" || response.TokenType != "Bearer" {
		t.Fatalf("unexpected session response: %+v", response)
	}
	return response.AccessToken
}

func TestCreateSessionWithEmptyBody(t *testing.T) {
	handler := newTestRouter(t)
	token := obtainSessionToken(t, handler, nil)
	if token == "" {
		t.Fatalf("expected anonymous sign-in to yield a token")
	}
}

func TestListRestaurantsSeedsAndFilters(t *testing.T) {
	handler := newTestRouter(t)

	recorder := performRequest(t, handler, http.MethodGet, "/restaurants", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var listing struct {
		Restaurants []catalog.Restaurant `json:"restaurants"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Restaurants) != 2 {
		t.Fatalf("expected seeded list of 2, got %d", len(listing.Restaurants))
	}

	recorder = performRequest(t, handler, http.MethodGet, "/restaurants?cuisine=Japanese&min_rating=5", "", nil)
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode filtered listing: %v", err)
	}
	if len(listing.Restaurants) != 1 || listing.Restaurants[0].ID != 2 {
		t.Fatalf("expected only Sakura House, got %+v", listing.Restaurants)
	}
}

func TestListRestaurantsRejectsBadMinRating(t *testing.T) {
	handler := newTestRouter(t)
	recorder := performRequest(t, handler, http.MethodGet, "/restaurants?min_rating=eleven", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric min_rating, got %d", recorder.Code)
	}
	recorder = performRequest(t, handler, http.MethodGet, "/restaurants?min_rating=9", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range min_rating, got %d", recorder.Code)
	}
}

func TestGetRestaurantNotFound(t *testing.T) {
	handler := newTestRouter(t)
	recorder := performRequest(t, handler, http.MethodGet, "/restaurants/404", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestListCuisines(t *testing.T) {
	handler := newTestRouter(t)
	recorder := performRequest(t, handler, http.MethodGet, "/cuisines", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Cuisines []string `json:"cuisines"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode cuisines: %v", err)
	}
	if len(response.Cuisines) != 4 {
		t.Fatalf("expected 4 distinct cuisines, got %v", response.Cuisines)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := newTestRouter(t)

	recorder := performRequest(t, handler, http.MethodPost, "/restaurants/1/reviews", "", gin.H{"rating": 4})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodPost, "/restaurants/1/reviews", "not-a-jwt", gin.H{"rating": 4})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bogus token, got %d", recorder.Code)
	}
}

func TestReviewRoundTrip(t *testing.T) {
	handler := newTestRouter(t)
	token := obtainSessionToken(t, handler, gin.H{"user_id": "user-1", "user_name": "Dana"})

	recorder := performRequest(t, handler, http.MethodPost, "/restaurants/1/reviews", token, gin.H{
		"rating":  4.5,
		"comment": "Great pasta",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var stored reviews.Review
	if err := json.Unmarshal(recorder.Body.Bytes(), &stored); err != nil {
		t.Fatalf("failed to decode stored review: %v", err)
	}
	if stored.UserID != "user-1" || stored.UserName != "Dana" {
		t.Fatalf("expected authorship from the session token, got %+v", stored)
	}
	if stored.RemoteID == "" {
		t.Fatalf("expected remote id to be stamped, got %+v", stored)
	}

	recorder = performRequest(t, handler, http.MethodGet, "/restaurants/1/reviews", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var listing struct {
		Reviews       []reviews.Review `json:"reviews"`
		AverageRating float64          `json:"average_rating"`
		Count         int64            `json:"count"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode review listing: %v", err)
	}
	if listing.Count != 1 || listing.AverageRating != 4.5 {
		t.Fatalf("unexpected aggregates: %+v", listing)
	}

	recorder = performRequest(t, handler, http.MethodDelete, fmt.Sprintf("/reviews/%d", stored.ID), token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestAddReviewValidation(t *testing.T) {
	handler := newTestRouter(t)
	token := obtainSessionToken(t, handler, nil)

	recorder := performRequest(t, handler, http.MethodPost, "/restaurants/1/reviews", token, gin.H{"rating": 0.5})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for rating below 1, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodPost, "/restaurants/404/reviews", token, gin.H{"rating": 4})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown restaurant, got %d", recorder.Code)
	}
}

func TestDeleteReviewRequiresAuthorship(t *testing.T) {
	handler := newTestRouter(t)
	author := obtainSessionToken(t, handler, gin.H{"user_id": "author", "user_name": "Author"})
	other := obtainSessionToken(t, handler, gin.H{"user_id": "other", "user_name": "Other"})

	recorder := performRequest(t, handler, http.MethodPost, "/restaurants/1/reviews", author, gin.H{"rating": 4})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}
	var stored reviews.Review
	if err := json.Unmarshal(recorder.Body.Bytes(), &stored); err != nil {
		t.Fatalf("failed to decode stored review: %v", err)
	}

	recorder = performRequest(t, handler, http.MethodDelete, fmt.Sprintf("/reviews/%d", stored.ID), other, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a foreign review, got %d", recorder.Code)
	}
}

func TestRestaurantAdminRoutes(t *testing.T) {
	handler := newTestRouter(t)
	token := obtainSessionToken(t, handler, nil)

	recorder := performRequest(t, handler, http.MethodPost, "/restaurants", token, gin.H{
		"id":     10,
		"name":   "New Spot",
		"tags":   "Fusion",
		"rating": 3,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = performRequest(t, handler, http.MethodDelete, "/restaurants", token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodPost, "/restaurants/sample", token, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	recorder = performRequest(t, handler, http.MethodGet, "/restaurants", "", nil)
	var listing struct {
		Restaurants []catalog.Restaurant `json:"restaurants"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Restaurants) != 2 {
		t.Fatalf("expected sample reload to restore the bundled set, got %d", len(listing.Restaurants))
	}
}

func TestSyncEndpointReportsCount(t *testing.T) {
	handler := newTestRouter(t)
	token := obtainSessionToken(t, handler, nil)

	recorder := performRequest(t, handler, http.MethodPost, "/reviews/sync", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Synced int `json:"synced"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode sync response: %v", err)
	}
	if response.Synced != 0 {
		t.Fatalf("expected nothing to sync, got %d", response.Synced)
	}
}
