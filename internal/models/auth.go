package models

import "github.com/golang-jwt/jwt/v5"

// DeliveryClaims are the JWT claims the engine needs to identify a caller:
// who they are and which institute scope they act in. The full authentication
// surface lives outside this service.
type DeliveryClaims struct {
	UserID      string `json:"user_id"`
	InstituteID string `json:"institute_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}
