package model

import "time"

// AuthProviderGoogle tags accounts provisioned through Google sign-in.
const AuthProviderGoogle = "google"

type User struct {
	ID           string    `json:"user_id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash *string   `json:"-"`
	AuthProvider *string   `json:"auth_provider"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser holds the fields needed to provision a user record.
type NewUser struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash *string
	AuthProvider *string
}
