package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const apiKeyCacheTTL = 5 * time.Minute

var ErrUnknownTier = errors.New("unknown tier")

type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient
	registry   *tier.Registry
	logger     hclog.Logger
	now        func() time.Time
}

// redis may be nil, in which case every validation hits the database.
func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient, registry *tier.Registry, logger hclog.Logger) *APIKeyService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if registry == nil {
		registry = tier.Default()
	}

	return &APIKeyService{
		repository: repo,
		redis:      redis,
		registry:   registry,
		logger:     logger.Named("apikey"),
		now:        time.Now,
	}
}

// Creates a key owned by userID and returns the plain key, the only time it is visible
func (s *APIKeyService) Create(ctx context.Context, name string, userID uuid.UUID, tierName string) (string, *models.APIKey, error) {
	if _, ok := s.registry.Lookup(tier.Tier(tierName)); !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTier, tierName)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	key := "gw_" + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		KeyHash:  hashKey(key),
		Name:     name,
		UserID:   userID,
		Tier:     tierName,
		IsActive: true,
	}

	if err := s.repository.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, apiKey, nil
}

// Returns the active key for a plain key, or nil when it is unknown or revoked
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)
	cacheKey := cacheKeyFor(keyHash)

	cached, err := s.fromCache(ctx, cacheKey)
	if err != nil {
		s.logger.Warn("dropping undecodable cache entry", "error", err)
		s.dropCache(ctx, cacheKey)
	} else if cached != nil {
		return cached, nil
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if s.redis != nil {
		apiKeyJSON, err := json.Marshal(apiKey)
		if err == nil {
			if err := s.redis.Set(ctx, cacheKey, apiKeyJSON, apiKeyCacheTTL); err != nil {
				s.logger.Debug("failed to cache api key", "error", err)
			}
		}
	}

	return apiKey, nil
}

func (s *APIKeyService) fromCache(ctx context.Context, cacheKey string) (*models.APIKey, error) {
	if s.redis == nil {
		return nil, nil
	}

	cached, err := s.redis.Get(ctx, cacheKey)
	if err != nil || cached == "" {
		return nil, nil
	}

	var apiKey models.APIKey
	if err := json.Unmarshal([]byte(cached), &apiKey); err != nil {
		return nil, admission.ParseFailure("cached api key", err)
	}
	return &apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

func (s *APIKeyService) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	return s.repository.ListByUser(ctx, userID)
}

// Deactivates a key and evicts it from the cache
func (s *APIKeyService) Revoke(ctx context.Context, id string) (bool, error) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return false, err
	}

	ok, err := s.repository.Revoke(ctx, id)
	if err != nil {
		return false, err
	}

	s.dropCache(ctx, cacheKeyFor(apiKey.KeyHash))
	return ok, nil
}

// Records key usage. Runs detached from the request, so it uses its own deadline
func (s *APIKeyService) UpdateLastUsed(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.repository.UpdateLastUsed(ctx, id, s.now().UTC()); err != nil {
		s.logger.Debug("failed to update last used", "key_id", id, "error", err)
	}
}

func (s *APIKeyService) dropCache(ctx context.Context, cacheKey string) {
	if s.redis == nil {
		return
	}
	if _, err := s.redis.Del(ctx, cacheKey); err != nil {
		s.logger.Debug("failed to evict api key", "error", err)
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func cacheKeyFor(keyHash string) string {
	return fmt.Sprintf("apikey:cache:%s", keyHash)
}
