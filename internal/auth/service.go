package auth

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/config"
)

type Permission string

const (
	PermRead      Permission = "station:read"
	PermOperate   Permission = "station:operate"
	PermConfigure Permission = "station:configure"
)

const (
	RoleOperator   = "operator"
	RoleTechnician = "technician"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Service issues and checks access tokens for the configured clients.
type Service struct {
	enabled    bool
	clients    map[string]config.ClientConfig
	jwtHandler *JWTHandler
	hasher     *SecretHasher
	logger     *zap.Logger
}

func NewService(cfg config.AuthConfig, logger *zap.Logger) *Service {
	clients := make(map[string]config.ClientConfig, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.Name] = c
	}

	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready, set " + cfg.JWTSecretEnv)
	}

	return &Service{
		enabled:    cfg.Enabled,
		clients:    clients,
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		hasher:     NewSecretHasher(),
		logger:     logger,
	}
}

func (a *Service) Enabled() bool { return a.enabled }

// IssueToken verifies a client secret and returns a signed access token.
func (a *Service) IssueToken(client, secret string) (string, time.Time, error) {
	c, ok := a.clients[client]
	if !ok || !ValidateSecretFormat(secret) {
		a.logger.Warn("Token request rejected", zap.String("client", client))
		return "", time.Time{}, ErrInvalidCredentials
	}

	valid, err := a.hasher.Verify(secret, c.SecretHash)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("client %s: %w", client, err)
	}
	if !valid {
		a.logger.Warn("Token request rejected", zap.String("client", client))
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(c.Name, c.Role)
	if err != nil {
		return "", time.Time{}, err
	}

	a.logger.Info("Access token issued", zap.String("client", client), zap.String("role", c.Role))
	return token, expiresAt, nil
}

// ValidateToken returns the permissions granted by an access token.
func (a *Service) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, RolePermissions(claims.Role), nil
}

// RolePermissions maps a role to its permissions. Unknown roles get none.
func RolePermissions(role string) []Permission {
	switch role {
	case RoleOperator:
		return []Permission{PermRead, PermOperate}
	case RoleTechnician:
		return []Permission{PermRead, PermOperate, PermConfigure}
	default:
		return nil
	}
}
