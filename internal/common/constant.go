package common

const (
	// AuthorizationHeaderName carries the bearer access token.
	AuthorizationHeaderName = "Authorization"
	// BearerPrefix precedes the access token in the Authorization header.
	BearerPrefix = "Bearer "

	// RoleUser is assigned to every self-registered account.
	RoleUser = "user"
	// RoleAdmin is only assigned out of band.
	RoleAdmin = "admin"
)
