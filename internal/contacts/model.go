package contacts

import "time"

// SubmissionsTable is migrated externally; the service never creates or alters it.
const SubmissionsTable = "contact_submissions"

// GuestCountColumn is stored as free-form text (e.g. "50-100"), never as a number.
const GuestCountColumn = "guest_count"

// ContactSubmission models one persisted inquiry. Rows are written once and never updated.
type ContactSubmission struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement"`
	FullName   string     `gorm:"column:full_name;type:text;not null"`
	Email      string     `gorm:"column:email;type:text;not null"`
	Phone      *string    `gorm:"column:phone;type:text"`
	EventType  string     `gorm:"column:event_type;type:text;not null"`
	EventDate  *time.Time `gorm:"column:event_date;type:date"`
	GuestCount *string    `gorm:"column:guest_count;type:text"`
	Message    string     `gorm:"column:message;type:text;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContactSubmission) TableName() string {
	return SubmissionsTable
}

// Receipt is returned to the caller once a submission is stored.
type Receipt struct {
	ID        int64
	CreatedAt time.Time
}
