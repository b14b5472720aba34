package models

import "time"

// User is the subset of the account record the billing flow reads
type User struct {
	ID           int64  `db:"id" json:"id"`
	Email        string `db:"email" json:"email"`
	FirstName    string `db:"first_name" json:"firstName"`
	LastName     string `db:"last_name" json:"lastName"`
	ProfileImage string `db:"profile_image" json:"profileImage,omitempty"`
	About        string `db:"about" json:"about,omitempty"`
}

// Forum is the discussion board attached to a course
type Forum struct {
	ID          int64  `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
}

// Course groups sessions under one catalog entry
type Course struct {
	ID          int64  `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Slug        string `db:"slug" json:"slug"`
	Image       string `db:"image" json:"image"`
	ForumID     *int64 `db:"forum_id" json:"forumId,omitempty"`
	Forum       *Forum `db:"-" json:"forum,omitempty"`
}

// CourseSession is a purchasable, scheduled offering of a course.
// Cost is in whole currency units.
type CourseSession struct {
	ID                 int64            `db:"id" json:"id"`
	CourseID           int64            `db:"course_id" json:"courseId"`
	Title              string           `db:"title" json:"title"`
	Description        string           `db:"description" json:"description"`
	Cost               int64            `db:"cost" json:"cost"`
	Image              string           `db:"image" json:"image,omitempty"`
	Link               string           `db:"link" json:"link,omitempty"`
	EnrollmentDeadline *time.Time       `db:"enrollment_deadline" json:"enrollment_deadline,omitempty"`
	StartDate          *time.Time       `db:"start_date" json:"start_date,omitempty"`
	EndDate            *time.Time       `db:"end_date" json:"end_date,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updatedAt"`
	Lecturers          []User           `db:"-" json:"Lecturers,omitempty"`
	Resources          []CourseResource `db:"-" json:"course_resources,omitempty"`
	Course             *Course          `db:"-" json:"course,omitempty"`
}

// CourseResource is a gated material attached to a session
type CourseResource struct {
	ID              int64     `db:"id" json:"id"`
	CourseSessionID int64     `db:"course_session_id" json:"courseSessionId"`
	Title           string    `db:"title" json:"title"`
	Description     string    `db:"description" json:"description"`
	ResourceType    string    `db:"resource_type" json:"resource_type"`
	URL             string    `db:"url" json:"url,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// CourseSubscription is one purchased line item. All rows created from one
// checkout share PaymentReference and are finalized together.
type CourseSubscription struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"userId"`
	CourseSessionID  int64     `db:"course_session_id" json:"course_session_Id"`
	Amount           int64     `db:"amount" json:"amount"`
	Status           string    `db:"status" json:"status"`
	PaymentMethod    string    `db:"payment_method" json:"payment_method"`
	PaymentReference string    `db:"payment_reference" json:"payment_reference"`
	TransactionID    *int64    `db:"transaction_id" json:"transaction_id,omitempty"`
	Reason           string    `db:"reason" json:"reason,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// Purchase is a successful subscription joined with what was bought
type Purchase struct {
	ID            int64          `json:"id"`
	CreatedAt     time.Time      `json:"createdAt"`
	CourseSession *CourseSession `json:"course_session"`
}

// SubscriptionOutcome is the terminal write applied to every row of a reference
type SubscriptionOutcome struct {
	Status        string
	TransactionID int64
	Reason        string
}

// Subscription statuses
const (
	SubscriptionStatusPending = "pending"
	SubscriptionStatusSuccess = "success"
	SubscriptionStatusFailed  = "failed"
)

// Payment methods
const (
	PaymentMethodPaystack = "paystack"
	PaymentMethodBank     = "bank"
)

// Roles
const (
	RoleAdmin    = "admin"
	RoleLecturer = "lecturer"
	RoleUser     = "user"
)

// IsTerminal reports whether a subscription status can no longer change
func IsTerminal(status string) bool {
	return status == SubscriptionStatusSuccess || status == SubscriptionStatusFailed
}
