// Package appstate holds the in-memory reactive view state: the loaded
// restaurant list, the search and filter inputs, the derived filtered list,
// and the currently selected restaurant with its reviews and aggregates.
// All mutable state is confined behind one mutex; derived state is always
// recomputed from a consistent snapshot of every input.
package appstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dinesmartlab/dinesmart/backend/internal/catalog"
	"github.com/dinesmartlab/dinesmart/backend/internal/reviews"
)

var (
	errMissingCatalog = errors.New("catalog service is required")
	errMissingReviews = errors.New("review service is required")
	errNotStarted     = errors.New("holder is not started")
	noOpLogger        = zap.NewNop()
)

const (
	opHolderNew = "appstate.holder.new"
	opSelect    = "appstate.select"
)

// HolderConfig describes the dependencies of the state holder.
type HolderConfig struct {
	Catalog *catalog.Service
	Reviews *reviews.Service
	Logger  *zap.Logger
}

// Snapshot is a consistent copy of the holder's state.
type Snapshot struct {
	Restaurants   []catalog.Restaurant
	Filtered      []catalog.Restaurant
	Cuisines      []string
	Query         string
	Cuisine       string
	MinRating     int
	Selected      *catalog.Restaurant
	Reviews       []reviews.Review
	AverageRating float64
	ReviewCount   int64
}

// Holder is the single logical owner of view state.
type Holder struct {
	catalog *catalog.Service
	reviews *reviews.Service
	logger  *zap.Logger

	mu            sync.Mutex
	lifecycle     context.Context
	restaurants   []catalog.Restaurant
	filter        catalog.Filter
	filtered      []catalog.Restaurant
	selected      *catalog.Restaurant
	reviewList    []reviews.Review
	averageRating float64
	reviewCount   int64

	// selectionSeq stamps each selection; emissions from a superseded
	// subscription carry an older stamp and are discarded.
	selectionSeq  int64
	cancelReviews func()

	updates chan struct{}
}

// NewHolder validates the configuration and constructs the state holder.
func NewHolder(cfg HolderConfig) (*Holder, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("%s: %w", opHolderNew, errMissingCatalog)
	}
	if cfg.Reviews == nil {
		return nil, fmt.Errorf("%s: %w", opHolderNew, errMissingReviews)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Holder{
		catalog: cfg.Catalog,
		reviews: cfg.Reviews,
		logger:  logger,
		updates: make(chan struct{}, 1),
	}, nil
}

// Start subscribes to the restaurant stream and keeps the derived state
// current until ctx ends. It must be called before Select.
func (h *Holder) Start(ctx context.Context) {
	h.mu.Lock()
	h.lifecycle = ctx
	h.mu.Unlock()

	restaurants, cancel := h.catalog.StreamRestaurants(ctx)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case list, ok := <-restaurants:
				if !ok {
					return
				}
				h.mu.Lock()
				h.restaurants = list
				h.recomputeLocked()
				h.mu.Unlock()
				h.notify()
			}
		}
	}()
}

// Updates signals after state changes. Signals coalesce; consumers call
// Snapshot for the current state.
func (h *Holder) Updates() <-chan struct{} {
	return h.updates
}

// Snapshot returns a consistent copy of the current state.
func (h *Holder) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := Snapshot{
		Restaurants:   append([]catalog.Restaurant(nil), h.restaurants...),
		Filtered:      append([]catalog.Restaurant(nil), h.filtered...),
		Cuisines:      catalog.Cuisines(h.restaurants),
		Query:         h.filter.Query,
		Cuisine:       h.filter.Cuisine,
		MinRating:     h.filter.MinRating,
		Reviews:       append([]reviews.Review(nil), h.reviewList...),
		AverageRating: h.averageRating,
		ReviewCount:   h.reviewCount,
	}
	if h.selected != nil {
		selected := *h.selected
		snapshot.Selected = &selected
	}
	return snapshot
}

// SetSearchQuery updates the free-text search input.
func (h *Holder) SetSearchQuery(query string) {
	h.mu.Lock()
	h.filter.Query = query
	h.recomputeLocked()
	h.mu.Unlock()
	h.notify()
}

// SetCuisineFilter updates the cuisine filter; empty disables it.
func (h *Holder) SetCuisineFilter(cuisine string) {
	h.mu.Lock()
	h.filter.Cuisine = cuisine
	h.recomputeLocked()
	h.mu.Unlock()
	h.notify()
}

// SetMinRatingFilter updates the minimum-rating filter; 0 disables it.
func (h *Holder) SetMinRatingFilter(rating int) {
	h.mu.Lock()
	h.filter.MinRating = rating
	h.recomputeLocked()
	h.mu.Unlock()
	h.notify()
}

// ClearFilters resets every filter input.
func (h *Holder) ClearFilters() {
	h.mu.Lock()
	h.filter = catalog.Filter{}
	h.recomputeLocked()
	h.mu.Unlock()
	h.notify()
}

// GetByIDCached resolves a restaurant from the already-loaded list without
// touching the store.
func (h *Holder) GetByIDCached(id int) *catalog.Restaurant {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cachedLocked(id)
}

// Select publishes the restaurant with the given id as selected, resolving
// from the loaded list first and the repository second, then subscribes to
// its remote review stream and loads the local aggregates. The previous
// selection's subscription is torn down before the new one starts.
func (h *Holder) Select(ctx context.Context, id int) error {
	h.mu.Lock()
	if h.lifecycle == nil {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", opSelect, errNotStarted)
	}
	lifecycle := h.lifecycle
	previous := h.cancelReviews
	h.cancelReviews = nil
	h.selectionSeq++
	seq := h.selectionSeq
	restaurant := h.cachedLocked(id)
	h.mu.Unlock()

	if previous != nil {
		previous()
	}

	if restaurant == nil {
		restaurant = h.catalog.GetByID(ctx, id)
	}

	h.mu.Lock()
	if h.selectionSeq != seq {
		h.mu.Unlock()
		return nil
	}
	h.selected = restaurant
	h.reviewList = nil
	h.averageRating = 0
	h.reviewCount = 0
	h.mu.Unlock()
	h.notify()

	if restaurant == nil {
		return nil
	}

	h.subscribeReviews(lifecycle, restaurant.ID, seq)
	h.loadAggregates(ctx, restaurant.ID, seq)
	return nil
}

// AddRestaurant upserts a restaurant; the catalog stream refreshes the list.
func (h *Holder) AddRestaurant(ctx context.Context, restaurant catalog.Restaurant) error {
	return h.catalog.Insert(ctx, restaurant)
}

// AddReview submits a review for a restaurant and refreshes the selected
// aggregates when they are affected.
func (h *Holder) AddReview(ctx context.Context, review reviews.Review, userID, userName string) (reviews.Review, error) {
	stored, err := h.reviews.AddReview(ctx, review, userID, userName)
	if err != nil {
		return reviews.Review{}, err
	}
	h.refreshAggregatesIfSelected(ctx, stored.RestaurantID)
	return stored, nil
}

// DeleteReview removes a review and refreshes the selected aggregates when
// they are affected.
func (h *Holder) DeleteReview(ctx context.Context, review reviews.Review) error {
	if err := h.reviews.DeleteReview(ctx, review); err != nil {
		return err
	}
	h.refreshAggregatesIfSelected(ctx, review.RestaurantID)
	return nil
}

func (h *Holder) subscribeReviews(lifecycle context.Context, restaurantID int, seq int64) {
	subCtx, cancelCtx := context.WithCancel(lifecycle)
	stream, cancelStream := h.reviews.StreamRemote(subCtx, restaurantID)

	h.mu.Lock()
	if h.selectionSeq != seq {
		h.mu.Unlock()
		cancelStream()
		cancelCtx()
		return
	}
	h.cancelReviews = func() {
		cancelStream()
		cancelCtx()
	}
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case list, ok := <-stream:
				if !ok {
					return
				}
				h.mu.Lock()
				if h.selectionSeq != seq {
					h.mu.Unlock()
					return
				}
				h.reviewList = list
				h.mu.Unlock()
				h.notify()
			}
		}
	}()
}

func (h *Holder) loadAggregates(ctx context.Context, restaurantID int, seq int64) {
	average, err := h.reviews.AverageRating(ctx, restaurantID)
	if err != nil {
		h.logger.Error("aggregate load failed",
			zap.String("operation", opSelect),
			zap.Int("restaurant_id", restaurantID),
			zap.Error(err))
		return
	}
	count, err := h.reviews.Count(ctx, restaurantID)
	if err != nil {
		h.logger.Error("aggregate load failed",
			zap.String("operation", opSelect),
			zap.Int("restaurant_id", restaurantID),
			zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.selectionSeq != seq {
		h.mu.Unlock()
		return
	}
	h.averageRating = average
	h.reviewCount = count
	h.mu.Unlock()
	h.notify()
}

func (h *Holder) refreshAggregatesIfSelected(ctx context.Context, restaurantID int) {
	h.mu.Lock()
	selectedMatches := h.selected != nil && h.selected.ID == restaurantID
	seq := h.selectionSeq
	h.mu.Unlock()
	if selectedMatches {
		h.loadAggregates(ctx, restaurantID, seq)
	}
}

func (h *Holder) cachedLocked(id int) *catalog.Restaurant {
	for index := range h.restaurants {
		if h.restaurants[index].ID == id {
			restaurant := h.restaurants[index]
			return &restaurant
		}
	}
	return nil
}

// recomputeLocked derives the filtered list from the current inputs; the
// caller holds the mutex, so the four inputs form a consistent snapshot.
func (h *Holder) recomputeLocked() {
	h.filtered = h.filter.Apply(h.restaurants)
}

func (h *Holder) notify() {
	select {
	case h.updates <- struct{}{}:
	default:
	}
}
