package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/platform/phi"
	"github.com/holovitals/synccore/internal/platform/telemetry"
)

// ErrAmbiguousMatch is returned when more than one identity record
// plausibly matches the candidate. The engine never auto-merges in that
// case; duplicate pending records beat an incorrect merge of two patients.
var ErrAmbiguousMatch = errors.New("identity: multiple plausible matches, manual reconciliation required")

// Service resolves incoming patient identities to canonical records.
type Service struct {
	repo       Repository
	challenges ChallengeRepository
	enc        *phi.Encryptor
	cache      *lru.Cache[string, uuid.UUID]

	// minAgreement is the number of secondary factors that must agree
	// before a primary-hash candidate is merged into.
	minAgreement int

	challengeTTL      time.Duration
	challengeAttempts int
	signingKey        []byte

	logger zerolog.Logger
	clock  func() time.Time
}

// Options configures the identity service.
type Options struct {
	CacheSize         int
	MinAgreement      int
	ChallengeTTL      time.Duration
	ChallengeAttempts int

	// SigningKey signs challenge tokens.
	SigningKey []byte
}

// NewService creates an identity resolution service.
func NewService(repo Repository, challenges ChallengeRepository, enc *phi.Encryptor, opts Options, logger zerolog.Logger) (*Service, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.MinAgreement <= 0 {
		opts.MinAgreement = 1
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 10 * time.Minute
	}
	if opts.ChallengeAttempts <= 0 {
		opts.ChallengeAttempts = 3
	}
	cache, err := lru.New[string, uuid.UUID](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity cache: %w", err)
	}
	return &Service{
		repo:              repo,
		challenges:        challenges,
		enc:               enc,
		cache:             cache,
		minAgreement:      opts.MinAgreement,
		challengeTTL:      opts.ChallengeTTL,
		challengeAttempts: opts.ChallengeAttempts,
		signingKey:        opts.SigningKey,
		logger:            logger,
		clock:             time.Now,
	}, nil
}

// SetClock overrides the service clock, for tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// Resolve maps candidate identifying fields to exactly one identity record.
// Lookup order: exact composite-hash match; primary-hash match with enough
// agreeing secondary factors (merged, version incremented); otherwise a new
// record at version 1. Multiple plausible matches fail with
// ErrAmbiguousMatch.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID, fields CandidateFields) (*IdentityRecord, error) {
	composite := fields.CompositeHash()

	if id, ok := s.cache.Get(composite); ok {
		rec, err := s.repo.GetByID(ctx, id)
		if err == nil {
			telemetry.IdentityResolutionsTotal.WithLabelValues("cached").Inc()
			return rec, nil
		}
		s.cache.Remove(composite)
	}

	rec, err := s.repo.GetByCompositeHash(ctx, composite)
	if err == nil {
		s.cache.Add(composite, rec.ID)
		telemetry.IdentityResolutionsTotal.WithLabelValues("composite_match").Inc()
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	candidates, err := s.repo.ListByPrimaryHash(ctx, fields.PrimaryHash())
	if err != nil {
		return nil, err
	}

	var matches []*IdentityRecord
	var matchFacts []CandidateFields
	for _, cand := range candidates {
		facts, err := s.decryptFacts(cand)
		if err != nil {
			return nil, fmt.Errorf("decrypt identity facts for %s: %w", cand.ID, err)
		}
		agree, considered := SecondaryAgreement(facts, fields)
		if considered > 0 && agree < considered {
			// A materially disagreeing secondary factor rules the
			// candidate out entirely.
			continue
		}
		if agree >= s.minAgreement {
			matches = append(matches, cand)
			matchFacts = append(matchFacts, facts)
		}
	}

	switch len(matches) {
	case 0:
		return s.create(ctx, userID, fields, composite)
	case 1:
		return s.merge(ctx, matches[0], matchFacts[0], fields, composite)
	default:
		telemetry.IdentityResolutionsTotal.WithLabelValues("ambiguous").Inc()
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID.String()
		}
		s.logger.Warn().Strs("candidates", ids).Msg("ambiguous identity match")
		return nil, ErrAmbiguousMatch
	}
}

func (s *Service) create(ctx context.Context, userID uuid.UUID, fields CandidateFields, composite string) (*IdentityRecord, error) {
	blob, err := s.encryptFacts(fields)
	if err != nil {
		return nil, err
	}
	rec := &IdentityRecord{
		UserID:         userID,
		PrimaryHash:    fields.PrimaryHash(),
		CompositeHash:  composite,
		EncryptedFacts: blob,
		Version:        1,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	s.cache.Add(composite, rec.ID)
	telemetry.IdentityResolutionsTotal.WithLabelValues("created").Inc()
	return rec, nil
}

func (s *Service) merge(ctx context.Context, rec *IdentityRecord, storedFacts, incoming CandidateFields, incomingComposite string) (*IdentityRecord, error) {
	merged, changed := storedFacts.Merge(incoming)
	if changed {
		blob, err := s.encryptFacts(merged)
		if err != nil {
			return nil, err
		}
		rec.EncryptedFacts = blob
		rec.PrimaryHash = merged.PrimaryHash()
		rec.CompositeHash = merged.CompositeHash()
		rec.Version++
		if err := s.repo.Update(ctx, rec); err != nil {
			return nil, fmt.Errorf("merge identity: %w", err)
		}
		s.cache.Add(rec.CompositeHash, rec.ID)
	}
	s.cache.Add(incomingComposite, rec.ID)
	telemetry.IdentityResolutionsTotal.WithLabelValues("merged").Inc()
	return rec, nil
}

// Get returns one identity record by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*IdentityRecord, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) encryptFacts(f CandidateFields) (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	blob, err := s.enc.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("encrypt identity facts: %w", err)
	}
	return blob, nil
}

func (s *Service) decryptFacts(rec *IdentityRecord) (CandidateFields, error) {
	raw, err := s.enc.Decrypt(rec.EncryptedFacts)
	if err != nil {
		return CandidateFields{}, err
	}
	var f CandidateFields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return CandidateFields{}, err
	}
	return f, nil
}
