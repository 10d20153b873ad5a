package auth

import "time"

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	// BusinessID is the business every request of this user acts for.
	BusinessID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	BusinessID string `json:"business_id"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Claims is what a verified token asserts about its bearer.
type Claims struct {
	UserID     string
	BusinessID string
}
