package reviews

import "context"

// Document is the wire shape of a review held by the remote review service.
type Document struct {
	RemoteID     string
	RestaurantID int
	UserID       string
	UserName     string
	Rating       float64
	Comment      string
	Timestamp    int64
}

// RemoteStore is the remote review service: a networked document store with
// live-update subscriptions. Implementations own their connection lifecycle;
// callers release subscriptions through the returned cancel function.
type RemoteStore interface {
	// Add stores a document and returns its remote identifier.
	Add(ctx context.Context, doc Document) (string, error)
	// Delete removes the document with the given remote identifier.
	Delete(ctx context.Context, remoteID string) error
	// Subscribe streams the full result set for a restaurant, ordered by
	// timestamp descending, re-delivered on every change.
	Subscribe(ctx context.Context, restaurantID int) (<-chan []Document, func())
	// AverageRating aggregates the stored ratings for a restaurant,
	// returning 0 when it has none.
	AverageRating(ctx context.Context, restaurantID int) (float64, error)
}

func (d Document) toReview() Review {
	return Review{
		RestaurantID: d.RestaurantID,
		UserID:       d.UserID,
		UserName:     d.UserName,
		Rating:       d.Rating,
		Comment:      d.Comment,
		Timestamp:    d.Timestamp,
		RemoteID:     d.RemoteID,
	}
}

func documentFromReview(review Review) Document {
	return Document{
		RestaurantID: review.RestaurantID,
		UserID:       review.UserID,
		UserName:     review.UserName,
		Rating:       review.Rating,
		Comment:      review.Comment,
		Timestamp:    review.Timestamp,
	}
}
