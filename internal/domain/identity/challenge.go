package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidChallengeToken means the token is malformed, forged, or
	// signed over a different challenge.
	ErrInvalidChallengeToken = errors.New("identity: invalid challenge token")

	// ErrChallengeExpired means the answer arrived after the window closed.
	// The challenge is deleted; a new one must be issued.
	ErrChallengeExpired = errors.New("identity: challenge expired")

	// ErrChallengeFailed means at least one answer was wrong. Remaining
	// attempts are decremented.
	ErrChallengeFailed = errors.New("identity: challenge answers incorrect")

	// ErrChallengeExhausted means the last attempt was used up. The
	// challenge is deleted.
	ErrChallengeExhausted = errors.New("identity: challenge attempts exhausted")
)

// hashAnswer hashes the canonical form of an answer. Dates canonicalize to
// YYYY-MM-DD; everything else falls through to token normalization, so
// comparison is case and punctuation insensitive.
func hashAnswer(answer string) string {
	sum := sha256.Sum256([]byte(canonicalizeDate(answer)))
	return hex.EncodeToString(sum[:])
}

// knowledge questions derivable from recorded facts. The facts themselves
// are never included in the question text.
type questionSource struct {
	question string
	answer   func(CandidateFields) string
}

var questionSources = []questionSource{
	{"What is your date of birth?", func(f CandidateFields) string { return canonicalizeDate(f.BirthDate) }},
	{"What is the street address previously on file for you?", func(f CandidateFields) string { return f.AltAddress }},
	{"What other name have your records been kept under?", func(f CandidateFields) string { return f.AltName }},
	{"What is your medical record number?", func(f CandidateFields) string { return f.StrongID }},
}

type challengeClaims struct {
	ChallengeID string `json:"cid"`
	jwt.RegisteredClaims
}

// CreateChallenge issues a bounded-time knowledge challenge for the
// identity, returning the stored challenge and a signed token that must
// accompany the answers.
func (s *Service) CreateChallenge(ctx context.Context, identityID uuid.UUID) (*IdentityChallenge, string, error) {
	rec, err := s.repo.GetByID(ctx, identityID)
	if err != nil {
		return nil, "", err
	}
	facts, err := s.decryptFacts(rec)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt identity facts: %w", err)
	}

	var questions, hashes []string
	for _, src := range questionSources {
		ans := src.answer(facts)
		if ans == "" {
			continue
		}
		questions = append(questions, src.question)
		hashes = append(hashes, hashAnswer(ans))
	}
	if len(questions) == 0 {
		return nil, "", fmt.Errorf("identity %s has no recorded facts to challenge against", identityID)
	}

	now := s.clock()
	ch := &IdentityChallenge{
		IdentityID:        identityID,
		Questions:         questions,
		AnswerHashes:      hashes,
		AttemptsRemaining: s.challengeAttempts,
		ExpiresAt:         now.Add(s.challengeTTL),
		CreatedAt:         now,
	}
	if err := s.challenges.Create(ctx, ch); err != nil {
		return nil, "", fmt.Errorf("create challenge: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, challengeClaims{
		ChallengeID: ch.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ch.ExpiresAt),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return nil, "", fmt.Errorf("sign challenge token: %w", err)
	}
	return ch, signed, nil
}

// VerifyChallenge checks the answers against the challenge bound to the
// token. Success deletes the challenge and returns the verified identity
// id; wrong answers burn an attempt; expiry or exhaustion invalidates the
// challenge entirely.
func (s *Service) VerifyChallenge(ctx context.Context, token string, answers []string) (uuid.UUID, error) {
	var claims challengeClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidChallengeToken
	}
	challengeID, err := uuid.Parse(claims.ChallengeID)
	if err != nil {
		return uuid.Nil, ErrInvalidChallengeToken
	}

	ch, err := s.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return uuid.Nil, err
	}
	if ch.Expired(s.clock()) {
		_ = s.challenges.Delete(ctx, ch.ID)
		return uuid.Nil, ErrChallengeExpired
	}

	if !answersMatch(ch.AnswerHashes, answers) {
		ch.AttemptsRemaining--
		if ch.AttemptsRemaining <= 0 {
			_ = s.challenges.Delete(ctx, ch.ID)
			return uuid.Nil, ErrChallengeExhausted
		}
		if err := s.challenges.Update(ctx, ch); err != nil {
			return uuid.Nil, err
		}
		return uuid.Nil, ErrChallengeFailed
	}

	if err := s.challenges.Delete(ctx, ch.ID); err != nil {
		return uuid.Nil, err
	}
	return ch.IdentityID, nil
}

func answersMatch(hashes, answers []string) bool {
	if len(answers) != len(hashes) {
		return false
	}
	ok := true
	for i, ans := range answers {
		if subtle.ConstantTimeCompare([]byte(hashAnswer(ans)), []byte(hashes[i])) != 1 {
			ok = false
		}
	}
	return ok
}

// ConnectionLinker re-attaches a connection to a verified identity. The
// connections service implements this.
type ConnectionLinker interface {
	LinkIdentity(ctx context.Context, connectionID, identityID uuid.UUID) error
}

// Recover verifies a challenge response and, on success, re-links the
// orphaned connection to the verified identity.
func (s *Service) Recover(ctx context.Context, linker ConnectionLinker, token string, answers []string, connectionID uuid.UUID) (uuid.UUID, error) {
	identityID, err := s.VerifyChallenge(ctx, token, answers)
	if err != nil {
		return uuid.Nil, err
	}
	if err := linker.LinkIdentity(ctx, connectionID, identityID); err != nil {
		return uuid.Nil, fmt.Errorf("relink connection: %w", err)
	}
	s.logger.Info().
		Str("connection_id", connectionID.String()).
		Str("identity_id", identityID.String()).
		Msg("connection relinked after challenge verification")
	return identityID, nil
}
