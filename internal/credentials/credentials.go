// Package credentials stores the per-owner chatbot API keys, encrypted at
// rest with AES-256-GCM under a configured master key.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when an owner has no key for a bot.
var ErrNotFound = errors.New("credentials: not found")

// Store reads and writes chatbot credentials. Without a master key values
// are stored and returned verbatim.
type Store struct {
	db   *gorm.DB
	aead cipher.AEAD
}

// NewStore creates a Store. masterKey is base64 of 32 bytes, or empty.
func NewStore(db *gorm.DB, masterKey string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("credentials: DB is required")
	}
	s := &Store{db: db}
	if masterKey == "" {
		return s, nil
	}
	key, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("credentials: decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials: master key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: cipher: %w", err)
	}
	s.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials: gcm: %w", err)
	}
	return s, nil
}

// APIKey returns the decrypted API key an owner configured for bot.
func (s *Store) APIKey(ctx context.Context, ownerID uint, bot string) (string, error) {
	var row models.ChatbotCredential
	err := s.db.WithContext(ctx).Where("owner_id = ? AND bot = ?", ownerID, bot).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credentials: lookup %d/%s: %w", ownerID, bot, err)
	}
	key, err := s.open(row.APIKeyEnc)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypt %d/%s: %w", ownerID, bot, err)
	}
	return key, nil
}

// Put stores or replaces an owner's API key for bot.
func (s *Store) Put(ctx context.Context, ownerID uint, bot, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("credentials: api key is required")
	}
	enc, err := s.seal(apiKey)
	if err != nil {
		return fmt.Errorf("credentials: encrypt: %w", err)
	}
	row := models.ChatbotCredential{OwnerID: ownerID, Bot: bot, APIKeyEnc: enc}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "bot"}},
		DoUpdates: clause.AssignmentColumns([]string{"api_key_enc", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("credentials: put %d/%s: %w", ownerID, bot, err)
	}
	return nil
}

// seal returns base64(nonce || ciphertext).
func (s *Store) seal(plain string) (string, error) {
	if s.aead == nil {
		return plain, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Store) open(enc string) (string, error) {
	if s.aead == nil {
		return enc, nil
	}
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("ciphertext too short")
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
