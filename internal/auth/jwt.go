package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID string
	// Device is empty when the token does not say.
	Device domain.DeviceClass
}

type JWTValidator struct {
	alg string
	key interface{}
}

// NewRS256Validator verifies tokens signed by the auth service's RSA key.
func NewRS256Validator(publicKeyPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTValidator{alg: "RS256", key: pub}, nil
}

func NewHS256Validator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("empty hs256 secret")
	}
	return &JWTValidator{alg: "HS256", key: []byte(secret)}, nil
}

func (j *JWTValidator) Validate(tokenStr string) (*Identity, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return j.key, nil
	}, jwt.WithValidMethods([]string{j.alg}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}

	id := &Identity{}
	for _, k := range []string{"sub", "user_id", "userId"} {
		if v, ok := claims[k].(string); ok && v != "" {
			id.UserID = v
			break
		}
	}
	if id.UserID == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	if v, ok := claims["device"].(string); ok && v != "" {
		d, err := domain.ParseDeviceClass(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		id.Device = d
	} else if web, ok := claims["isWeb"].(bool); ok {
		id.Device = domain.DeviceMobile
		if web {
			id.Device = domain.DeviceWeb
		}
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
