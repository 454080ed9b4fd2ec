package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dinesmartlab/dinesmart/backend/internal/stream"
)

// TopicRestaurants is the hub topic invalidated by every restaurant mutation.
const TopicRestaurants = "restaurants"

const subscriberBuffer = 16

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingHub      = errors.New("stream hub is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew     = "catalog.service.new"
	opStream         = "catalog.stream_restaurants"
	opGetByID        = "catalog.get_by_id"
	opInsert         = "catalog.insert"
	opLoadSampleData = "catalog.load_sample_data"
	opDeleteAll      = "catalog.delete_all"
	opSeed           = "catalog.seed"
)

// ServiceError carries a stable operation code alongside the causing error.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the restaurant repository.
type ServiceConfig struct {
	Database *gorm.DB
	Hub      *stream.Hub
	Logger   *zap.Logger
	// Seed overrides the bundled dataset; used by tests and demo builds.
	Seed []byte
}

// Service owns the restaurant table: seed-on-first-access, reactive list
// streaming, and read/write passthrough.
type Service struct {
	db     *gorm.DB
	hub    *stream.Hub
	logger *zap.Logger
	seed   []byte

	seedMu sync.Mutex
}

// NewService validates the configuration and constructs the repository.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Hub == nil {
		return nil, newServiceError(opServiceNew, "missing_hub", errMissingHub)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	seed := cfg.Seed
	if seed == nil {
		seed = SampleData
	}

	return &Service{
		db:     cfg.Database,
		hub:    cfg.Hub,
		logger: logger,
		seed:   seed,
	}, nil
}

// ListRestaurants ensures the store is seeded and returns the full list
// ordered by id. Read failures surface as an empty list.
func (s *Service) ListRestaurants(ctx context.Context) []Restaurant {
	s.ensureSeeded(ctx)
	return s.listOrEmpty(ctx)
}

// StreamRestaurants ensures the store is seeded, then emits the full
// restaurant list ordered by id, re-emitting after every mutation. Read
// failures surface as an empty list, never as an error. The returned cancel
// function releases the subscription.
func (s *Service) StreamRestaurants(ctx context.Context) (<-chan []Restaurant, func()) {
	s.ensureSeeded(ctx)

	signals, unsubscribe := s.hub.Subscribe(ctx, TopicRestaurants)
	out := make(chan []Restaurant, subscriberBuffer)
	out <- s.listOrEmpty(ctx)

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				select {
				case out <- s.listOrEmpty(ctx):
				default:
				}
			}
		}
	}()

	return out, cancel
}

// GetByID performs a point lookup. Missing rows and storage failures both
// come back as nil; failures are logged rather than surfaced.
func (s *Service) GetByID(ctx context.Context, id int) *Restaurant {
	var restaurant Restaurant
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&restaurant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		s.logError(opGetByID, "query_failed", err, zap.Int("restaurant_id", id))
		return nil
	}
	return &restaurant
}

// Insert upserts a restaurant by id, replacing an existing row wholesale.
func (s *Service) Insert(ctx context.Context, restaurant Restaurant) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&restaurant).Error
	if err != nil {
		s.logError(opInsert, "insert_failed", err, zap.Int("restaurant_id", restaurant.ID))
		return newServiceError(opInsert, "insert_failed", err)
	}
	s.hub.Publish(TopicRestaurants)
	return nil
}

// LoadSampleData re-applies the bundled dataset regardless of current store
// state. Existing rows with matching ids are replaced.
func (s *Service) LoadSampleData(ctx context.Context) error {
	restaurants, err := ParseSeed(s.seed)
	if err != nil {
		s.logError(opLoadSampleData, "parse_failed", err)
		return newServiceError(opLoadSampleData, "parse_failed", err)
	}
	if err := s.insertBatch(ctx, restaurants); err != nil {
		s.logError(opLoadSampleData, "insert_failed", err)
		return newServiceError(opLoadSampleData, "insert_failed", err)
	}
	s.hub.Publish(TopicRestaurants)
	return nil
}

// DeleteAll wipes the restaurant table; review rows cascade.
func (s *Service) DeleteAll(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("DELETE FROM restaurants").Error; err != nil {
		s.logError(opDeleteAll, "delete_failed", err)
		return newServiceError(opDeleteAll, "delete_failed", err)
	}
	s.hub.Publish(TopicRestaurants)
	return nil
}

// Count reports the number of stored restaurants.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Restaurant{}).Count(&count).Error; err != nil {
		return 0, newServiceError(opStream, "count_failed", err)
	}
	return count, nil
}

// ensureSeeded populates an empty store from the bundled dataset. Any
// failure abandons seeding silently; the list simply starts empty. The whole
// batch lands before the first emission so subscribers never observe a
// partially-seeded store.
func (s *Service) ensureSeeded(ctx context.Context) {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()

	var count int64
	if err := s.db.WithContext(ctx).Model(&Restaurant{}).Count(&count).Error; err != nil {
		s.logError(opSeed, "count_failed", err)
		return
	}
	if count > 0 {
		return
	}

	restaurants, err := ParseSeed(s.seed)
	if err != nil {
		s.logError(opSeed, "parse_failed", err)
		return
	}
	if len(restaurants) == 0 {
		return
	}
	if err := s.insertBatch(ctx, restaurants); err != nil {
		s.logError(opSeed, "insert_failed", err)
		return
	}
	s.logger.Info("seeded restaurant store", zap.Int("restaurants", len(restaurants)))
}

func (s *Service) insertBatch(ctx context.Context, restaurants []Restaurant) error {
	if len(restaurants) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index := range restaurants {
			err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&restaurants[index]).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) listOrEmpty(ctx context.Context) []Restaurant {
	var restaurants []Restaurant
	err := s.db.WithContext(ctx).Order("id").Find(&restaurants).Error
	if err != nil {
		s.logError(opStream, "query_failed", err)
		return []Restaurant{}
	}
	if restaurants == nil {
		restaurants = []Restaurant{}
	}
	return restaurants
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("catalog service error", attrs...)
}
