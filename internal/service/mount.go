package service

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/kamipay/relay/internal/domain"
)

// MountClaims are the claims of a QR mount token.
type MountClaims struct {
	TxID      string `json:"tx_id,omitempty"`
	Reference string `json:"reference,omitempty"`
	jwt.RegisteredClaims
}

// MountTokens issues and verifies the signed tokens that checkout pages use to
// mount a QR watcher.
type MountTokens struct {
	secret   []byte
	ttl      time.Duration
	clock    clockwork.Clock
	validate *validator.Validate
}

// NewMountTokens creates a MountTokens. A nil clock uses the real clock.
func NewMountTokens(secret string, ttl time.Duration, clock clockwork.Clock) *MountTokens {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MountTokens{
		secret:   []byte(secret),
		ttl:      ttl,
		clock:    clock,
		validate: validator.New(),
	}
}

// Issue signs a mount token for the given container data.
func (m *MountTokens) Issue(req *domain.MountRequest) (*domain.MountTokenResponse, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	now := m.clock.Now()
	exp := now.Add(m.ttl)
	claims := MountClaims{
		TxID:      req.TxID,
		Reference: req.Reference,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, domain.ErrInternal("failed to sign mount token", err)
	}
	return &domain.MountTokenResponse{Token: signed, ExpiresAt: exp.UTC()}, nil
}

// Verify validates a mount token and returns the container data it carries.
func (m *MountTokens) Verify(tokenStr string) (domain.QRMount, error) {
	var claims MountClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clock.Now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.QRMount{}, domain.ErrUnauthorized("invalid or expired mount token")
	}
	return domain.QRMount{TxID: claims.TxID, Reference: claims.Reference}, nil
}
