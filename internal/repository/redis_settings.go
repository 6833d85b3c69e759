package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyboard-server/internal/apikeys"
	"storyboard-server/internal/model"
)

// Ключи в Redis. Настройки глобальные, без пользовательских префиксов.
const (
	geminiKeysKey       = "settings:gemini_api_keys"
	aivideoTokenKey     = "settings:aivideo_access_token"
	whomeaiKeyKey       = "settings:whomeai_api_key"
	referenceLibraryKey = "settings:reference_library"
)

// Compile-time check
var _ apikeys.Store = (*RedisSettingsRepository)(nil)

// RedisSettingsRepository хранит настройки генерации: пул ключей Gemini,
// токены остальных провайдеров и библиотеку референсов.
type RedisSettingsRepository struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisSettingsRepository(client *redis.Client, logger *zap.Logger) *RedisSettingsRepository {
	return &RedisSettingsRepository{client: client, logger: logger.Named("RedisSettingsRepo")}
}

// Load returns the stored Gemini key pool in order. A missing record means
// an empty pool, not an error.
func (r *RedisSettingsRepository) Load(ctx context.Context) ([]string, error) {
	raw, err := r.client.Get(ctx, geminiKeysKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load gemini keys: %w", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("decode gemini keys: %w", err)
	}
	return keys, nil
}

// Save replaces the stored Gemini key pool as a whole.
func (r *RedisSettingsRepository) Save(ctx context.Context, keys []string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode gemini keys: %w", err)
	}
	if err := r.client.Set(ctx, geminiKeysKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("save gemini keys: %w", err)
	}
	r.logger.Info("Пул ключей Gemini обновлен", zap.Int("count", len(keys)))
	return nil
}

func (r *RedisSettingsRepository) GetAIVideoToken(ctx context.Context) (string, error) {
	return r.getString(ctx, aivideoTokenKey)
}

func (r *RedisSettingsRepository) SetAIVideoToken(ctx context.Context, token string) error {
	return r.setString(ctx, aivideoTokenKey, token)
}

func (r *RedisSettingsRepository) GetWhomeAIKey(ctx context.Context) (string, error) {
	return r.getString(ctx, whomeaiKeyKey)
}

func (r *RedisSettingsRepository) SetWhomeAIKey(ctx context.Context, key string) error {
	return r.setString(ctx, whomeaiKeyKey, key)
}

// GetReferenceLibrary returns the shared pool of uploaded reference images.
func (r *RedisSettingsRepository) GetReferenceLibrary(ctx context.Context) ([]model.ReferenceImage, error) {
	raw, err := r.client.Get(ctx, referenceLibraryKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reference library: %w", err)
	}
	var library []model.ReferenceImage
	if err := json.Unmarshal([]byte(raw), &library); err != nil {
		return nil, fmt.Errorf("decode reference library: %w", err)
	}
	return library, nil
}

func (r *RedisSettingsRepository) SaveReferenceLibrary(ctx context.Context, library []model.ReferenceImage) error {
	raw, err := json.Marshal(library)
	if err != nil {
		return fmt.Errorf("encode reference library: %w", err)
	}
	if err := r.client.Set(ctx, referenceLibraryKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("save reference library: %w", err)
	}
	return nil
}

func (r *RedisSettingsRepository) getString(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisSettingsRepository) setString(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
