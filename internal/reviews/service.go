package reviews

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dinesmartlab/dinesmart/backend/internal/stream"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingRemote   = errors.New("remote store is required")
	errMissingHub      = errors.New("stream hub is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew    = "reviews.service.new"
	opAddReview     = "reviews.add_review"
	opDeleteReview  = "reviews.delete_review"
	opStreamLocal   = "reviews.stream_local"
	opAverageRating = "reviews.average_rating"
	opCount         = "reviews.count"
	opSyncPending   = "reviews.sync_pending"
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

// ServiceConfig describes the dependencies of the review repository.
type ServiceConfig struct {
	Database *gorm.DB
	Remote   RemoteStore
	Hub      *stream.Hub
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Service coordinates the dual-write of reviews: the remote store is the
// source of truth for live fan-out, the local store is the durability and
// offline-read cache. Writes go remote-first so the remote identifier can be
// stamped into the local copy, but the local write is never skipped.
type Service struct {
	db     *gorm.DB
	remote RemoteStore
	hub    *stream.Hub
	logger *zap.Logger
	clock  func() time.Time
}

// NewService validates the configuration and constructs the repository.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opServiceNew, "missing_remote", errMissingRemote)
	}
	if cfg.Hub == nil {
		return nil, newServiceError(opServiceNew, "missing_hub", errMissingHub)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		db:     cfg.Database,
		remote: cfg.Remote,
		hub:    cfg.Hub,
		logger: logger,
		clock:  clock,
	}, nil
}

// Topic returns the hub topic invalidated by local review mutations for one
// restaurant.
func Topic(restaurantID int) string {
	return fmt.Sprintf("reviews/%d", restaurantID)
}

// AddReview writes a review remote-first. A remote failure is absorbed: the
// review is stored locally without a remote id and queued in the outbox for
// a later sync. Only a local store failure surfaces as an error. The
// returned review carries the local-assigned id and, when the remote write
// succeeded, the remote identifier.
func (s *Service) AddReview(ctx context.Context, review Review, userID, userName string) (Review, error) {
	review.ID = 0
	review.UserID = userID
	review.UserName = userName
	if review.Timestamp == 0 {
		review.Timestamp = s.clock().UnixMilli()
	}

	remoteID, remoteErr := s.remote.Add(ctx, documentFromReview(review))
	if remoteErr != nil {
		s.logger.Warn("remote review write failed, keeping review local",
			zap.String("operation", opAddReview),
			zap.Int("restaurant_id", review.RestaurantID),
			zap.Error(remoteErr))
	} else {
		review.RemoteID = remoteID
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Restaurant").Create(&review).Error; err != nil {
			return err
		}
		if remoteErr != nil {
			entry := OutboxEntry{
				ReviewID:         review.ID,
				EnqueuedAtMillis: s.clock().UnixMilli(),
			}
			return tx.Omit("Review").Create(&entry).Error
		}
		return nil
	})
	if txErr != nil {
		s.logError(opAddReview, "local_insert_failed", txErr,
			zap.Int("restaurant_id", review.RestaurantID))
		return Review{}, newServiceError(opAddReview, "local_insert_failed", txErr)
	}

	s.hub.Publish(Topic(review.RestaurantID))
	return review, nil
}

// DeleteReview removes a review. The remote delete is best-effort when a
// remote id is present; only a local store failure surfaces as an error.
func (s *Service) DeleteReview(ctx context.Context, review Review) error {
	if review.RemoteID != "" {
		if err := s.remote.Delete(ctx, review.RemoteID); err != nil {
			s.logger.Warn("remote review delete failed",
				zap.String("operation", opDeleteReview),
				zap.String("remote_id", review.RemoteID),
				zap.Error(err))
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id = ?", review.ID).Delete(&OutboxEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", review.ID).Delete(&Review{}).Error
	})
	if err != nil {
		s.logError(opDeleteReview, "local_delete_failed", err, zap.Int64("review_id", review.ID))
		return newServiceError(opDeleteReview, "local_delete_failed", err)
	}

	s.hub.Publish(Topic(review.RestaurantID))
	return nil
}

// GetByID loads a single locally stored review; nil when it does not exist.
func (s *Service) GetByID(ctx context.Context, id int64) (*Review, error) {
	var review Review
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opDeleteReview, "query_failed", err)
	}
	return &review, nil
}

// ListLocal returns the locally-cached reviews for a restaurant ordered by
// timestamp descending. Read failures surface as an empty list.
func (s *Service) ListLocal(ctx context.Context, restaurantID int) []Review {
	return s.listOrEmpty(ctx, restaurantID)
}

// StreamLocal emits the locally-cached reviews for a restaurant ordered by
// timestamp descending, re-emitting after every local mutation. Read
// failures surface as an empty list.
func (s *Service) StreamLocal(ctx context.Context, restaurantID int) (<-chan []Review, func()) {
	signals, unsubscribe := s.hub.Subscribe(ctx, Topic(restaurantID))
	out := make(chan []Review, 16)
	out <- s.listOrEmpty(ctx, restaurantID)

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
				case out <- s.listOrEmpty(ctx, restaurantID):
				default:
				}
			}
		}
	}()

	return out, cancel
}

// StreamRemote subscribes to the remote live query for a restaurant. Every
// server-side change delivers the full replacement list, timestamp
// descending. The cancel function must be called to release the remote
// subscription.
func (s *Service) StreamRemote(ctx context.Context, restaurantID int) (<-chan []Review, func()) {
	documents, cancel := s.remote.Subscribe(ctx, restaurantID)
	out := make(chan []Review, remoteSubscriberBuffer)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case docs, ok := <-documents:
				if !ok {
					return
				}
				mapped := make([]Review, 0, len(docs))
				for _, doc := range docs {
					mapped = append(mapped, doc.toReview())
				}
				select {
				case out <- mapped:
				default:
				}
			}
		}
	}()

	return out, cancel
}

// AverageRating aggregates the locally stored ratings for a restaurant.
// With no reviews the average is exactly 0.
func (s *Service) AverageRating(ctx context.Context, restaurantID int) (float64, error) {
	var average *float64
	err := s.db.WithContext(ctx).Model(&Review{}).
		Where("restaurant_id = ?", restaurantID).
		Select("AVG(rating)").
		Scan(&average).Error
	if err != nil {
		s.logError(opAverageRating, "query_failed", err, zap.Int("restaurant_id", restaurantID))
		return 0, newServiceError(opAverageRating, "query_failed", err)
	}
	if average == nil {
		return 0, nil
	}
	return *average, nil
}

// Count reports the number of locally stored reviews for a restaurant.
func (s *Service) Count(ctx context.Context, restaurantID int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Review{}).
		Where("restaurant_id = ?", restaurantID).
		Count(&count).Error
	if err != nil {
		s.logError(opCount, "query_failed", err, zap.Int("restaurant_id", restaurantID))
		return 0, newServiceError(opCount, "query_failed", err)
	}
	return count, nil
}

// SyncPending retries the remote write for every outbox entry. Successful
// entries have the remote id stamped onto the local row and leave the
// outbox; failures stay queued for the next run. The count of synced
// reviews is returned.
func (s *Service) SyncPending(ctx context.Context) (int, error) {
	var entries []OutboxEntry
	err := s.db.WithContext(ctx).
		Preload("Review").
		Order("enqueued_at_ms").
		Find(&entries).Error
	if err != nil {
		s.logError(opSyncPending, "query_failed", err)
		return 0, newServiceError(opSyncPending, "query_failed", err)
	}

	synced := 0
	touched := make(map[int]struct{})
	for _, entry := range entries {
		remoteID, remoteErr := s.remote.Add(ctx, documentFromReview(entry.Review))
		if remoteErr != nil {
			s.logger.Warn("outbox sync attempt failed",
				zap.String("operation", opSyncPending),
				zap.Int64("review_id", entry.ReviewID),
				zap.Error(remoteErr))
			continue
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			updateErr := tx.Model(&Review{}).
				Where("id = ?", entry.ReviewID).
				Update("remote_id", remoteID).Error
			if updateErr != nil {
				return updateErr
			}
			return tx.Where("review_id = ?", entry.ReviewID).Delete(&OutboxEntry{}).Error
		})
		if err != nil {
			s.logError(opSyncPending, "stamp_failed", err, zap.Int64("review_id", entry.ReviewID))
			continue
		}
		synced++
		touched[entry.Review.RestaurantID] = struct{}{}
	}

	for restaurantID := range touched {
		s.hub.Publish(Topic(restaurantID))
	}
	return synced, nil
}

func (s *Service) listOrEmpty(ctx context.Context, restaurantID int) []Review {
	var list []Review
	err := s.db.WithContext(ctx).
		Where("restaurant_id = ?", restaurantID).
		Order("timestamp DESC").
		Find(&list).Error
	if err != nil {
		s.logError(opStreamLocal, "query_failed", err, zap.Int("restaurant_id", restaurantID))
		return []Review{}
	}
	if list == nil {
		list = []Review{}
	}
	return list
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
	s.logger.Error("review service error", attrs...)
}
