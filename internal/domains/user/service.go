package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/auriclabs/auric/pkg/Logger"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims carries the device identity inside a signed token. UID is
// the partition key for everything in the pipeline: conversations,
// in-progress pointers, speech profiles.
type Claims struct {
	UID      string `json:"uid"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// UserService validates device tokens and mints them for tests and
// provisioning tooling. There is no password flow: devices are
// provisioned with long-lived tokens out of band.
type UserService interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
	IssueToken(ctx context.Context, uid, deviceID string, ttl time.Duration) (string, error)
}

type userService struct {
	jwtSecret string
	logger    *Logger.Logger
}

func NewService(jwtSecret string, logger *Logger.Logger) UserService {
	return &userService{jwtSecret: jwtSecret, logger: logger}
}

func (s *userService) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *userService) IssueToken(_ context.Context, uid, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:      uid,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   uid,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}
