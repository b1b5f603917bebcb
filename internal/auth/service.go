package auth

import (
	"fmt"
	"slices"

	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject     string
	Role        string
	Permissions []Permission
}

func (i Identity) Has(p Permission) bool {
	return slices.Contains(i.Permissions, p)
}

type machineToken struct {
	name string
	hash string
	role string
}

type AuthService struct {
	jwtHandler    *JWTHandler
	hasher        *SecretHasher
	machineTokens map[uuid.UUID]machineToken
	logger        *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) (*AuthService, error) {
	tokens := make(map[uuid.UUID]machineToken, len(cfg.MachineTokens))
	for _, mt := range cfg.MachineTokens {
		id, err := uuid.Parse(mt.ID)
		if err != nil {
			return nil, fmt.Errorf("machine token %q: invalid id: %w", mt.Name, err)
		}
		if !ValidRole(mt.Role) {
			return nil, fmt.Errorf("machine token %q: unknown role %q", mt.Name, mt.Role)
		}
		tokens[id] = machineToken{name: mt.Name, hash: mt.Hash, role: mt.Role}
	}

	return &AuthService{
		jwtHandler:    NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		hasher:        NewSecretHasher(),
		machineTokens: tokens,
		logger:        logger,
	}, nil
}

// IssueToken mints an access token for subject.
func (a *AuthService) IssueToken(subject, role string) (string, error) {
	if !ValidRole(role) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return a.jwtHandler.GenerateAccessToken(subject, role)
}

// ValidateToken accepts a JWT access token or a configured machine token.
func (a *AuthService) ValidateToken(token string) (Identity, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return Identity{
			Subject:     claims.Subject,
			Role:        claims.Role,
			Permissions: RoleToPermissions(claims.Role),
		}, nil
	}

	id, ok := MachineTokenID(token)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	mt, exists := a.machineTokens[id]
	if !exists {
		a.logger.Warn("Unknown machine token", zap.String("token_id", id.String()))
		return Identity{}, ErrInvalidToken
	}

	valid, err := a.hasher.Verify(token, mt.hash)
	if err != nil {
		a.logger.Error("Machine token hash unusable",
			zap.String("name", mt.name),
			zap.Error(err))
		return Identity{}, ErrInvalidToken
	}
	if !valid {
		a.logger.Warn("Machine token rejected", zap.String("name", mt.name))
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		Subject:     mt.name,
		Role:        mt.role,
		Permissions: RoleToPermissions(mt.role),
	}, nil
}

func ValidRole(role string) bool {
	switch Permission(role) {
	case PermOperator, PermTechnician, PermAdmin:
		return true
	}
	return false
}

// RoleToPermissions expands a role; unknown roles get operator rights only.
func RoleToPermissions(role string) []Permission {
	switch Permission(role) {
	case PermAdmin:
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case PermTechnician:
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}
