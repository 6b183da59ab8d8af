package activitypub

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"tusker/db"
	"tusker/domain"
)

const rsaKeyBits = 2048

// algorithm precedence: the primary signing algorithm sorts first, and the
// order of GetOrCreate results is stable across calls.
var keyAlgOrder = map[domain.KeyAlgorithm]int{
	domain.KeyAlgRsaSha256: 0,
	domain.KeyAlgEd25519:   1,
}

// KeyStore generates, persists, and caches per-actor signing key pairs.
// Generation is single-flight per actor: concurrent first calls share one
// generation instead of racing to two different keys.
type KeyStore struct {
	store *db.DB

	mu    sync.RWMutex
	cache map[string][]domain.KeyPair
	group singleflight.Group
}

func NewKeyStore(store *db.DB) *KeyStore {
	return &KeyStore{
		store: store,
		cache: make(map[string][]domain.KeyPair),
	}
}

// GetOrCreate returns the actor's key pairs, generating and persisting them
// on first use. The returned slice is ordered with the primary algorithm
// first and is identical across calls for the lifetime of the actor.
func (ks *KeyStore) GetOrCreate(username string) ([]domain.KeyPair, error) {
	ks.mu.RLock()
	keys, ok := ks.cache[username]
	ks.mu.RUnlock()
	if ok {
		return keys, nil
	}

	v, err, _ := ks.group.Do(username, func() (interface{}, error) {
		keys, err := ks.store.ReadKeysByUsername(username)
		if err != nil {
			return nil, fmt.Errorf("failed to read keys for %s: %w", username, err)
		}
		if len(keys) == 0 {
			keys, err = ks.generate(username)
			if err != nil {
				return nil, err
			}
		}
		sort.Slice(keys, func(i, j int) bool {
			return keyAlgOrder[keys[i].Algorithm] < keyAlgOrder[keys[j].Algorithm]
		})
		ks.mu.Lock()
		ks.cache[username] = keys
		ks.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.KeyPair), nil
}

// Primary returns the key pair used to sign outbound requests.
func (ks *KeyStore) Primary(username string) (*domain.KeyPair, error) {
	keys, err := ks.GetOrCreate(username)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].Algorithm == domain.KeyAlgRsaSha256 {
			return &keys[i], nil
		}
	}
	return nil, fmt.Errorf("no %s key for %s", domain.KeyAlgRsaSha256, username)
}

// generate creates one pair per configured algorithm and persists each.
// A persist failure is fatal to the call: serving an unpersisted key would
// desynchronize signatures from the published verification material.
func (ks *KeyStore) generate(username string) ([]domain.KeyPair, error) {
	rsaPair, err := generateRsaPair(username)
	if err != nil {
		return nil, err
	}
	edPair, err := generateEd25519Pair(username)
	if err != nil {
		return nil, err
	}

	keys := []domain.KeyPair{*rsaPair, *edPair}
	for i := range keys {
		if err := ks.store.CreateKeyPair(&keys[i]); err != nil {
			return nil, fmt.Errorf("failed to persist %s key for %s: %w", keys[i].Algorithm, username, err)
		}
	}
	return keys, nil
}

func generateRsaPair(username string) (*domain.KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}

	privPem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rsa public key: %w", err)
	}
	pubPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return &domain.KeyPair{
		Id:         uuid.New(),
		Username:   username,
		Algorithm:  domain.KeyAlgRsaSha256,
		PublicPem:  string(pubPem),
		PrivatePem: string(privPem),
		CreatedAt:  time.Now(),
	}, nil
}

func generateEd25519Pair(username string) (*domain.KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ed25519 private key: %w", err)
	}
	privPem := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ed25519 public key: %w", err)
	}
	pubPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return &domain.KeyPair{
		Id:         uuid.New(),
		Username:   username,
		Algorithm:  domain.KeyAlgEd25519,
		PublicPem:  string(pubPem),
		PrivatePem: string(privPem),
		CreatedAt:  time.Now(),
	}, nil
}
