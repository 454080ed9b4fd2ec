package reviews

import (
	"github.com/dinesmartlab/dinesmart/backend/internal/catalog"
)

// Review is the persisted review record. The local id is assigned by the
// store on insert; RemoteID is set once the review has been written to the
// remote review service and is empty for local-only rows.
type Review struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RestaurantID int     `gorm:"column:restaurant_id;not null;index" json:"restaurantId"`
	UserID       string  `gorm:"column:user_id;size:190;not null" json:"userId"`
	UserName     string  `gorm:"column:user_name;size:320;not null" json:"userName"`
	Rating       float64 `gorm:"column:rating;not null" json:"rating"`
	Comment      string  `gorm:"column:comment;type:text;not null;default:''" json:"comment"`
	// Milliseconds since epoch, defaulting to write time.
	Timestamp int64  `gorm:"column:timestamp;not null" json:"timestamp"`
	RemoteID  string `gorm:"column:remote_id;size:190;not null;default:''" json:"remoteId,omitempty"`

	Restaurant catalog.Restaurant `gorm:"foreignKey:RestaurantID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Review) TableName() string {
	return "reviews"
}

// OutboxEntry records a local review whose remote write has not succeeded
// yet. SyncPending drains the table.
type OutboxEntry struct {
	ReviewID         int64 `gorm:"column:review_id;primaryKey;autoIncrement:false"`
	EnqueuedAtMillis int64 `gorm:"column:enqueued_at_ms;not null"`

	Review Review `gorm:"foreignKey:ReviewID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (OutboxEntry) TableName() string {
	return "review_outbox"
}
