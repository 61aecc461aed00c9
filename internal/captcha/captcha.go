// Package captcha issues and consumes one-time challenge tokens used to
// gate comment submission.
package captcha

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/quibble-app/quibble/internal/model"
	"github.com/quibble-app/quibble/internal/store"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found or already used")
	ErrChallengeMismatch = errors.New("challenge response mismatch")
	ErrChallengeExpired  = errors.New("challenge expired")
)

type Service struct {
	store      store.ChallengeStore
	hashSecret string
	ttl        time.Duration
}

func NewService(st store.ChallengeStore, hashSecret string, ttl time.Duration) *Service {
	return &Service{store: st, hashSecret: hashSecret, ttl: ttl}
}

// Issue creates a fresh arithmetic challenge and stores it with an expiry.
func (s *Service) Issue(ctx context.Context) (model.Challenge, error) {
	a, err := randomInt(10)
	if err != nil {
		return model.Challenge{}, err
	}
	b, err := randomInt(10)
	if err != nil {
		return model.Challenge{}, err
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return model.Challenge{}, err
	}

	c := model.Challenge{
		Key:       deriveKey(nonce, s.hashSecret),
		Question:  fmt.Sprintf("%d + %d = ?", a, b),
		Response:  strconv.Itoa(a + b),
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return model.Challenge{}, err
	}
	return c, nil
}

// Consume validates a response against the stored challenge exactly once.
// The store deletes the row atomically before any comparison, so the same
// key can never be validated twice, regardless of the outcome here.
func (s *Service) Consume(ctx context.Context, key, response string) error {
	c, err := s.store.ConsumeChallenge(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrChallengeNotFound
		}
		return err
	}
	if time.Now().After(c.ExpiresAt) {
		return ErrChallengeExpired
	}
	if !strings.EqualFold(strings.TrimSpace(response), c.Response) {
		return ErrChallengeMismatch
	}
	return nil
}

// deriveKey hashes the nonce with the server secret so keys are not
// guessable from the question alone.
func deriveKey(nonce []byte, secret string) string {
	h := sha3.New256()
	h.Write(nonce)
	h.Write([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:20])
}

func randomInt(max int64) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 1, nil
}
