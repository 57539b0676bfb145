package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	UserTypeStudent    = "student"
	UserTypeDepartment = "department"
	UserTypeAdmin      = "admin"
)

type Claims struct {
	UserID         string `json:"user_id"`
	UserType       string `json:"user_type"`
	RegistrationNo string `json:"registration_no,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsStudent() bool {
	return c != nil && c.UserType == UserTypeStudent
}

func (c *Claims) IsStaff() bool {
	return c != nil && (c.UserType == UserTypeDepartment || c.UserType == UserTypeAdmin)
}

func NewAccessToken(secret, issuer string, ttl time.Duration, claims Claims) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" || claims.UserType == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
