package firebase

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by writes attempted before a successful sign-up.
var ErrNotAuthenticated = errors.New("firebase: device is not authenticated")

// APIError carries the reason the backend gave for rejecting a request.
type APIError struct {
	Status int
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firebase: %d: %s", e.Status, e.Reason)
}

// Result describes a successful database write.
type Result struct {
	Path     string
	DataType string
	ETag     string
	Value    string
}

type signUpResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type identityError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type databaseError struct {
	Error string `json:"error"`
}
