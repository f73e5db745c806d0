package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yanqian/truthcard/internal/domain/usage"
	apperrors "github.com/yanqian/truthcard/pkg/errors"
)

const issuer = "truthcard"

// Config controls device token issuance.
type Config struct {
	Secret   string
	TokenTTL time.Duration
}

// Claims identifies an anonymous browser.
type Claims struct {
	DeviceID  string     `json:"deviceId"`
	Tier      usage.Tier `json:"tier"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Token is a signed device token with its claims.
type Token struct {
	Token  string `json:"token"`
	Claims Claims `json:"claims"`
}

// Service issues and validates device tokens.
type Service interface {
	Issue(ctx context.Context, tier usage.Tier) (Token, error)
	Validate(ctx context.Context, token string) (Claims, error)
	Upgrade(ctx context.Context, claims Claims, tier usage.Tier) (Token, error)
}

type service struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg Config, logger *slog.Logger) Service {
	return &service{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "device.service"),
	}
}

func (s *service) Issue(_ context.Context, tier usage.Tier) (Token, error) {
	if tier == "" {
		tier = usage.TierFree
	}
	token, err := s.sign(uuid.NewString(), tier)
	if err != nil {
		return Token{}, err
	}
	s.logger.Debug("device issued", "device", token.Claims.DeviceID)
	return token, nil
}

func (s *service) Upgrade(_ context.Context, claims Claims, tier usage.Tier) (Token, error) {
	if strings.TrimSpace(claims.DeviceID) == "" {
		return Token{}, apperrors.Wrap("invalid_token", "device id missing", nil)
	}
	if _, ok := usage.ParseTier(string(tier)); !ok {
		return Token{}, apperrors.Wrap("invalid_input", fmt.Sprintf("unknown tier %q", tier), nil)
	}
	return s.sign(claims.DeviceID, tier)
}

func (s *service) sign(deviceID string, tier usage.Tier) (Token, error) {
	now := s.now()
	claims := tokenClaims{
		Tier: string(tier),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return Token{}, apperrors.Wrap("device_error", "failed to sign device token", err)
	}
	return Token{
		Token: signed,
		Claims: Claims{
			DeviceID:  deviceID,
			Tier:      tier,
			IssuedAt:  claims.IssuedAt.Time,
			ExpiresAt: claims.ExpiresAt.Time,
		},
	}, nil
}

func (s *service) Validate(_ context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.Wrap("invalid_token", "device token missing", nil)
	}
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, apperrors.Wrap("invalid_token", "device token validation failed", err)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Claims{}, apperrors.Wrap("invalid_token", "device token invalid", nil)
	}
	tier, ok := usage.ParseTier(claims.Tier)
	if !ok {
		tier = usage.TierFree
	}
	out := Claims{
		DeviceID:  claims.Subject,
		Tier:      tier,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier"`
}
