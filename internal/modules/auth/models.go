// Package auth implements signup, login, and bearer-token verification.
package auth

import "time"

// User is an account row. PasswordHash never leaves the module.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Locale       string
	CreatedAt    time.Time
}

// Session is the result of a successful signup or login.
type Session struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}
