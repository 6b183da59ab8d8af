package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is the single local actor this server federates for.
type Account struct {
	Id          uuid.UUID
	Username    string
	DisplayName string
	Summary     string
	AvatarURL   string
	HeaderURL   string
	CreatedAt   time.Time
}

// KeyAlgorithm tags a signing key pair.
type KeyAlgorithm string

const (
	KeyAlgRsaSha256 KeyAlgorithm = "rsa-sha256"
	KeyAlgEd25519   KeyAlgorithm = "ed25519"
)

// KeyPair holds one actor signing key. PrivatePem never leaves the server.
type KeyPair struct {
	Id         uuid.UUID
	Username   string
	Algorithm  KeyAlgorithm
	PublicPem  string
	PrivatePem string
	CreatedAt  time.Time
}
