package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/logger"

	"github.com/golang-jwt/jwt/v5"
)

const (
	secretKeyFileName = ".monsoon-secret-key"
	tokenIssuer       = "monsoon-sampler"
	tokenAudience     = "monsoon-subscriber"
	minSecretKeyBytes = 32
)

var authLog = logger.Component("auth")

// AuthService signs and validates subscriber tokens
type AuthService struct {
	secretKey   string
	tokenExpiry time.Duration
}

// CustomClaims represents the JWT claims structure
type CustomClaims struct {
	ServerName string `json:"server_name"`
	UserAgent  string `json:"user_agent"`
	jwt.RegisteredClaims
}

var authService *AuthService

// InitAuthService initializes the authentication service. An empty
// secretKey loads the persisted key from the home directory, or
// generates and persists one.
func InitAuthService(secretKey string, tokenExpiry time.Duration) *AuthService {
	if secretKey == "" {
		secretKey = loadOrCreateSecretKey(secretKeyPath())
	}

	if tokenExpiry == 0 {
		tokenExpiry = 90 * 24 * time.Hour
	}

	secretKey = strings.TrimSpace(secretKey)

	// HMAC-SHA256 wants at least 32 bytes of key
	if len(secretKey) < minSecretKeyBytes {
		authLog.Warn().Int("length", len(secretKey)).Msg("Secret key is shorter than 32 bytes, padding")
		padding := make([]byte, minSecretKeyBytes-len(secretKey))
		_, _ = rand.Read(padding)
		secretKey += hex.EncodeToString(padding)
	}

	authService = &AuthService{
		secretKey:   secretKey,
		tokenExpiry: tokenExpiry,
	}

	return authService
}

func secretKeyPath() string {
	homeDir, _ := os.UserHomeDir()
	if homeDir == "" {
		return filepath.Join(os.TempDir(), secretKeyFileName)
	}
	return filepath.Join(homeDir, secretKeyFileName)
}

func loadOrCreateSecretKey(keyFile string) string {
	if data, err := os.ReadFile(keyFile); err == nil && len(data) > 0 {
		key := strings.TrimSpace(string(data))
		authLog.Info().Str("file", keyFile).Int("length", len(key)).Msg("Loaded persisted secret key")
		return key
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "monsoon"
	}

	var key string
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		key = fmt.Sprintf("monsoon-%s-%d-backup", hostname, time.Now().UnixNano())
		authLog.Warn().Err(err).Msg("Random generation failed, using fallback key")
	} else {
		key = fmt.Sprintf("monsoon-%s-%s", hostname, hex.EncodeToString(randomBytes))
	}

	if err := os.WriteFile(keyFile, []byte(key), 0o600); err != nil {
		authLog.Warn().Err(err).Str("file", keyFile).Msg("Could not persist secret key")
	} else {
		authLog.Info().Str("file", keyFile).Int("length", len(key)).Msg("Generated and persisted secret key")
	}

	return key
}

// GenerateToken creates a new JWT token with server details
func GenerateToken(serverName string) (string, error) {
	if authService == nil {
		return "", errors.New().New(errors.ErrAuthNotInitialized)
	}

	now := time.Now()
	claims := CustomClaims{
		ServerName: serverName,
		UserAgent:  tokenAudience,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(authService.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(authService.secretKey))
}

// ValidateToken verifies and parses a JWT token
func ValidateToken(tokenString string) (*CustomClaims, error) {
	errFactory := errors.New()
	if authService == nil {
		return nil, errFactory.New(errors.ErrAuthNotInitialized)
	}

	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(authService.secretKey), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrUnauthorized, err)
	}

	if !token.Valid {
		return nil, errFactory.WithMessage(errors.ErrUnauthorized, "Invalid token")
	}

	return claims, nil
}

// GetTokenExpiry returns when a token issued now would expire
func GetTokenExpiry() time.Time {
	if authService == nil {
		return time.Time{}
	}
	return time.Now().Add(authService.tokenExpiry)
}
