package catalog

// Restaurant is the persisted restaurant record. Identifiers are assigned by
// the caller (seed dataset or user input), never by the store. Coordinates
// and the image URI are optional; a nil pointer means the value is absent,
// which is distinct from zero.
type Restaurant struct {
	ID        int      `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Name      string   `gorm:"column:name;size:320;not null" json:"name"`
	Tags      string   `gorm:"column:tags;size:512;not null;default:''" json:"tags"`
	Rating    int      `gorm:"column:rating;not null;default:0" json:"rating"`
	Address   string   `gorm:"column:address;size:512;not null;default:''" json:"address"`
	Phone     string   `gorm:"column:phone;size:64;not null;default:''" json:"phone"`
	Latitude  *float64 `gorm:"column:lat" json:"lat,omitempty"`
	Longitude *float64 `gorm:"column:lng" json:"lng,omitempty"`
	Image     *string  `gorm:"column:image;size:512" json:"image,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Restaurant) TableName() string {
	return "restaurants"
}
