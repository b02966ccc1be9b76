package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func createIdentityWithFacts(t *testing.T, svc *Service) *IdentityRecord {
	t.Helper()
	rec, err := svc.Resolve(context.Background(), uuid.New(), CandidateFields{
		GivenName: "Jane", FamilyName: "Doe", BirthDate: "1984-03-07",
		StrongID: "MRN-1234", AltAddress: "12 Elm St",
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestChallengeRoundTrip(t *testing.T) {
	svc, _, challenges := newTestService(t)
	rec := createIdentityWithFacts(t, svc)

	ch, token, err := svc.CreateChallenge(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ch.Questions) != 3 {
		t.Fatalf("questions = %d, want 3 (dob, address, mrn)", len(ch.Questions))
	}
	if token == "" {
		t.Fatal("expected a signed token")
	}

	// Answers in question order, with sloppy formatting.
	answers := []string{"03/07/1984", "12 elm st.", "mrn 1234"}
	identityID, err := svc.VerifyChallenge(context.Background(), token, answers)
	if err != nil {
		t.Fatal(err)
	}
	if identityID != rec.ID {
		t.Fatalf("identity = %s, want %s", identityID, rec.ID)
	}
	if len(challenges.challenges) != 0 {
		t.Fatal("challenge must be deleted on successful use")
	}
}

func TestChallengeWrongAnswersBurnAttempts(t *testing.T) {
	svc, _, challenges := newTestService(t)
	rec := createIdentityWithFacts(t, svc)

	ch, token, err := svc.CreateChallenge(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	wrong := []string{"1990-01-01", "nowhere", "0000"}
	for i := 0; i < 2; i++ {
		_, err = svc.VerifyChallenge(context.Background(), token, wrong)
		if !errors.Is(err, ErrChallengeFailed) {
			t.Fatalf("attempt %d: err = %v, want ErrChallengeFailed", i+1, err)
		}
	}

	// Third wrong answer exhausts and invalidates the challenge.
	_, err = svc.VerifyChallenge(context.Background(), token, wrong)
	if !errors.Is(err, ErrChallengeExhausted) {
		t.Fatalf("err = %v, want ErrChallengeExhausted", err)
	}
	if _, ok := challenges.challenges[ch.ID]; ok {
		t.Fatal("exhausted challenge must be deleted")
	}

	// Even the correct answers no longer work.
	_, err = svc.VerifyChallenge(context.Background(), token, []string{"1984-03-07", "12 Elm St", "MRN-1234"})
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("err = %v, want ErrChallengeNotFound", err)
	}
}

func TestChallengeExpiryInvalidates(t *testing.T) {
	svc, _, challenges := newTestService(t)
	rec := createIdentityWithFacts(t, svc)

	// Base the mocked clock on wall time so the token's own exp claim is
	// still valid when parsed; only the challenge window has closed.
	now := time.Now()
	svc.SetClock(func() time.Time { return now })

	ch, token, err := svc.CreateChallenge(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(11 * time.Minute)
	_, err = svc.VerifyChallenge(context.Background(), token, []string{"1984-03-07", "12 Elm St", "MRN-1234"})
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("err = %v, want ErrChallengeExpired", err)
	}
	if _, ok := challenges.challenges[ch.ID]; ok {
		t.Fatal("expired challenge must be deleted")
	}
}

func TestChallengeRejectsForgedToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.VerifyChallenge(context.Background(), "not-a-token", nil)
	if !errors.Is(err, ErrInvalidChallengeToken) {
		t.Fatalf("err = %v, want ErrInvalidChallengeToken", err)
	}
}

type mockLinker struct {
	linked map[uuid.UUID]uuid.UUID
}

func (m *mockLinker) LinkIdentity(_ context.Context, connectionID, identityID uuid.UUID) error {
	if m.linked == nil {
		m.linked = make(map[uuid.UUID]uuid.UUID)
	}
	m.linked[connectionID] = identityID
	return nil
}

func TestRecoverRelinksConnection(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := createIdentityWithFacts(t, svc)

	_, token, err := svc.CreateChallenge(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	linker := &mockLinker{}
	connID := uuid.New()
	identityID, err := svc.Recover(context.Background(), linker, token,
		[]string{"1984-03-07", "12 Elm St", "MRN-1234"}, connID)
	if err != nil {
		t.Fatal(err)
	}
	if identityID != rec.ID {
		t.Fatalf("identity = %s, want %s", identityID, rec.ID)
	}
	if linker.linked[connID] != rec.ID {
		t.Fatal("connection must be linked to the verified identity")
	}
}
