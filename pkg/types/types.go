package types

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ReconciliationJob asks for one user's graph to be brought in line with
// what a provider reports for them
type ReconciliationJob struct {
	UserID     string        `json:"dsnpId"`
	ProviderID string        `json:"providerId"`
	Transitive bool          `json:"processTransitiveUpdates"`
	Debug      *DebugOptions `json:"debugDisposition,omitempty"`
}

// DebugOptions tweak how the queue schedules a job. Only used by the
// development endpoints.
type DebugOptions struct {
	// Delay postpones the first attempt
	Delay time.Duration `json:"delay,omitempty"`

	// Attempts overrides the queue's default attempt budget
	Attempts int `json:"attempts,omitempty"`
}

// NewJob creates a job for the (user, provider) pair
func NewJob(userID, providerID string, transitive bool) ReconciliationJob {
	return ReconciliationJob{
		UserID:     userID,
		ProviderID: providerID,
		Transitive: transitive,
	}
}

// JobKey builds the queue identity for a (user, provider) pair
func JobKey(userID, providerID string) string {
	return userID + ":" + providerID
}

// Key returns the deduplication key of the job. The transitive flag is not
// part of the key, so a non-transitive resubmission replaces a transitive one.
func (j ReconciliationJob) Key() string {
	return JobKey(j.UserID, j.ProviderID)
}

// NonTransitive returns a copy of the job with fan-out disabled
func (j ReconciliationJob) NonTransitive() ReconciliationJob {
	return ReconciliationJob{
		UserID:     j.UserID,
		ProviderID: j.ProviderID,
		Transitive: false,
	}
}

// Validate checks that the job names a user and a provider
func (j ReconciliationJob) Validate() error {
	if j.UserID == "" {
		return fmt.Errorf("job is missing a user id")
	}
	if j.ProviderID == "" {
		return fmt.Errorf("job is missing a provider id")
	}
	return nil
}

// ConnectionType distinguishes follows from friendships
type ConnectionType string

const (
	ConnectionTypeFollow     ConnectionType = "follow"
	ConnectionTypeFriendship ConnectionType = "friendship"
)

// UnmarshalText accepts any casing ("Follow", "follow")
func (c *ConnectionType) UnmarshalText(text []byte) error {
	v := ConnectionType(strings.ToLower(string(text)))
	switch v {
	case ConnectionTypeFollow, ConnectionTypeFriendship:
		*c = v
		return nil
	default:
		return fmt.Errorf("unknown connection type %q", string(text))
	}
}

// PrivacyType distinguishes public from private graph pages
type PrivacyType string

const (
	PrivacyTypePublic  PrivacyType = "public"
	PrivacyTypePrivate PrivacyType = "private"
)

// UnmarshalText accepts any casing ("Private", "private")
func (p *PrivacyType) UnmarshalText(text []byte) error {
	v := PrivacyType(strings.ToLower(string(text)))
	switch v {
	case PrivacyTypePublic, PrivacyTypePrivate:
		*p = v
		return nil
	default:
		return fmt.Errorf("unknown privacy type %q", string(text))
	}
}

// Direction tells which side of a connection the provider is reporting
type Direction string

const (
	// DirectionTo is a connection from the user to the peer
	DirectionTo Direction = "connectionTo"

	// DirectionFrom is a connection from the peer to the user
	DirectionFrom Direction = "connectionFrom"

	// DirectionBidirectional is both
	DirectionBidirectional Direction = "bidirectional"
)

// ProviderConnection is one edge as reported by the provider
type ProviderConnection struct {
	PeerUserID     string         `json:"dsnpId"`
	ConnectionType ConnectionType `json:"connectionType"`
	PrivacyType    PrivacyType    `json:"privacyType"`
	Direction      Direction      `json:"direction"`
}

// IsOutgoing reports whether the user should own an edge to the peer
func (c ProviderConnection) IsOutgoing() bool {
	return c.Direction == DirectionTo || c.Direction == DirectionBidirectional
}

// IsIncoming reports whether the peer may own an edge to the user
func (c ProviderConnection) IsIncoming() bool {
	return c.Direction == DirectionFrom || c.Direction == DirectionBidirectional
}

// IsPrivateFriendship reports whether the connection lives in the private
// friendship schema, which needs the peer's public keys to encrypt
func (c ProviderConnection) IsPrivateFriendship() bool {
	return c.ConnectionType == ConnectionTypeFriendship && c.PrivacyType == PrivacyTypePrivate
}

// KeyType identifies the algorithm of a provider-supplied key pair
type KeyType string

const (
	KeyTypeX25519 KeyType = "X25519"
)

// ProviderKeyPair is a graph encryption key pair held by the provider on
// behalf of the user. Keys are hex encoded on the wire.
type ProviderKeyPair struct {
	KeyType    KeyType `json:"keyType"`
	PublicKey  string  `json:"publicKey"`
	PrivateKey string  `json:"privateKey"`
}

// Decode returns the raw public and secret key bytes
func (k ProviderKeyPair) Decode() (public, secret []byte, err error) {
	public, err = hex.DecodeString(strings.TrimPrefix(k.PublicKey, "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid public key: %w", err)
	}
	secret, err = hex.DecodeString(strings.TrimPrefix(k.PrivateKey, "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid private key: %w", err)
	}
	return public, secret, nil
}

// CapacityMap records capacity withdrawn per capacity epoch
type CapacityMap map[uint32]uint64

// Add accumulates amount into epoch
func (m CapacityMap) Add(epoch uint32, amount uint64) {
	m[epoch] += amount
}

// Merge adds every entry of other into m
func (m CapacityMap) Merge(other CapacityMap) {
	for epoch, amount := range other {
		m[epoch] += amount
	}
}

// Total returns the capacity withdrawn across all epochs
func (m CapacityMap) Total() uint64 {
	var total uint64
	for _, amount := range m {
		total += amount
	}
	return total
}
