package entitlement_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/entitlement"
	"poscore/internal/notify"
	"poscore/internal/shared/testutil"
	"poscore/internal/store"
	"poscore/internal/window"
)

// recordingNotifier captures events so tests can assert on delivery.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestEngine(t *testing.T, cfg entitlement.Config) (*entitlement.Engine, *store.Memory, *recordingNotifier) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	mem := store.NewMemory()
	notifier := &recordingNotifier{}
	eng := entitlement.NewEngine(mem, window.NewMemory(cfg.VolumeWindow), notifier, logger, cfg)
	return eng, mem, notifier
}

func defaultTestConfig() entitlement.Config {
	return entitlement.Config{
		DefaultTrialCredits:   50,
		VolumeThreshold:       3,
		VolumeWindow:          24 * time.Hour,
		DefaultMaxActivations: 3,
	}
}

func TestCheckEligibilityFirstSighting(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	res, err := eng.CheckEligibility(ctx, testutil.Identity(1), testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)

	assert.True(t, res.Eligible)
	assert.Equal(t, entitlement.ReasonTrialStarted, res.Reason)
	assert.Equal(t, 50, res.CreditsRemaining)
	assert.Equal(t, entitlement.TrialActive, res.State)
	assert.NotEmpty(t, res.RegistrationID)
}

func TestCheckEligibilityRepeatSighting(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	id := testutil.Identity(1)

	first, err := eng.CheckEligibility(ctx, id, testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)
	second, err := eng.CheckEligibility(ctx, id, testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)

	assert.Equal(t, first.RegistrationID, second.RegistrationID)
	assert.Equal(t, entitlement.ReasonTrialActive, second.Reason)
	assert.True(t, second.Eligible)
	assert.Equal(t, 50, second.CreditsRemaining)
}

func TestCheckEligibilityRequiresBothIdentifiers(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	_, err := eng.CheckEligibility(ctx, entitlement.Identity{DeviceFingerprint: "fp-only"}, testutil.Metadata(""))
	require.Error(t, err)
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))

	_, err = eng.CheckEligibility(ctx, entitlement.Identity{HardwareSignature: "hw-only"}, testutil.Metadata(""))
	require.Error(t, err)
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))
}

func TestConsumeCreditDecrementsAndWritesLedger(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	id := testutil.Identity(1)

	_, err := eng.CheckEligibility(ctx, id, testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)

	res, err := eng.ConsumeCredit(ctx, id, "sale_recorded", "receipt-001", "idem-1", testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)

	assert.Equal(t, 49, res.CreditsRemaining)
	assert.Equal(t, entitlement.TrialActive, res.State)
	assert.False(t, res.Replayed)
	require.NotNil(t, res.Entry)
	assert.Equal(t, entitlement.EntryConsume, res.Entry.EntryType)
	assert.Equal(t, -1, res.Entry.Amount)
	assert.Equal(t, 50, res.Entry.BalanceBefore)
	assert.Equal(t, 49, res.Entry.BalanceAfter)
	assert.Equal(t, "sale_recorded", res.Entry.Action)
	assert.Equal(t, "receipt-001", res.Entry.ReferenceID)

	entries, err := eng.LedgerForRegistration(ctx, res.RegistrationID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestConsumeCreditIdempotentReplay(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	id := testutil.Identity(1)

	_, err := eng.CheckEligibility(ctx, id, testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)

	first, err := eng.ConsumeCredit(ctx, id, "sale_recorded", "receipt-001", "idem-retry", testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)
	replay, err := eng.ConsumeCredit(ctx, id, "sale_recorded", "receipt-001", "idem-retry", testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)

	assert.True(t, replay.Replayed)
	assert.Equal(t, first.CreditsRemaining, replay.CreditsRemaining)
	assert.Equal(t, first.Entry.ID, replay.Entry.ID)

	entries, err := eng.LedgerForRegistration(ctx, first.RegistrationID)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "replay must not append a second entry")
}

func TestLedgerReplayReconstructsTrialBalance(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.DefaultTrialCredits = 10
	eng, mem, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	id := testutil.Identity(1)

	elig, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := eng.ConsumeCredit(ctx, id, "sale_recorded",
			fmt.Sprintf("receipt-%d", i), fmt.Sprintf("idem-%d", i), testutil.Metadata(""))
		require.NoError(t, err)
	}

	entries, err := eng.LedgerForRegistration(ctx, elig.RegistrationID)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Each entry picks up exactly where the previous one left off, and
	// replaying the signed deltas over the allocation reproduces the
	// live balance.
	balance := 10
	for i, entry := range entries {
		assert.Equal(t, balance, entry.BalanceBefore, "entry %d", i)
		assert.Equal(t, entry.BalanceBefore+entry.Amount, entry.BalanceAfter, "entry %d", i)
		balance = entry.BalanceAfter
	}
	assert.Equal(t, 6, balance)

	var reg *entitlement.TrialRegistration
	err = mem.WithTransaction(ctx, func(tx entitlement.Tx) error {
		var err error
		reg, err = tx.Registrations().FindByIdentity(ctx, id)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, balance, reg.CreditsRemaining)
	assert.Equal(t, reg.CreditsAllocated-reg.CreditsUsed, reg.CreditsRemaining)
}

func TestConsumeCreditExhaustsTrial(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.DefaultTrialCredits = 3
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	id := testutil.Identity(1)

	_, err := eng.CheckEligibility(ctx, id, testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)

	var last *entitlement.ConsumeResult
	for i := 0; i < 3; i++ {
		last, err = eng.ConsumeCredit(ctx, id, "sale_recorded", "", fmt.Sprintf("idem-%d", i), testutil.Metadata(""))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, last.CreditsRemaining)
	assert.Equal(t, entitlement.TrialExhausted, last.State)

	// The next consume is rejected with the exhaustion kind, not a
	// generic state error.
	_, err = eng.ConsumeCredit(ctx, id, "sale_recorded", "", "idem-over", testutil.Metadata(""))
	require.Error(t, err)
	assert.Equal(t, entitlement.KindCreditsExhausted, entitlement.KindOf(err))

	elig, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, entitlement.ReasonTrialExhausted, elig.Reason)
}

func TestConsumeCreditExhaustionReplayStillSucceeds(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.DefaultTrialCredits = 1
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	id := testutil.Identity(1)

	_, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)

	first, err := eng.ConsumeCredit(ctx, id, "sale_recorded", "", "idem-last", testutil.Metadata(""))
	require.NoError(t, err)
	assert.Equal(t, entitlement.TrialExhausted, first.State)

	// The retry of the exhausting call must replay the original success
	// even though the registration is now EXHAUSTED.
	replay, err := eng.ConsumeCredit(ctx, id, "sale_recorded", "", "idem-last", testutil.Metadata(""))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, 0, replay.CreditsRemaining)
}

func TestConsumeCreditConcurrent(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.DefaultTrialCredits = 10
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	id := testutil.Identity(1)

	_, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)

	const attempts = 25
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = eng.ConsumeCredit(ctx, id, "sale_recorded", "",
				fmt.Sprintf("concurrent-%d", n), testutil.Metadata(""))
		}(i)
	}
	wg.Wait()

	var succeeded, exhaustedCount int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case entitlement.KindOf(err) == entitlement.KindCreditsExhausted:
			exhaustedCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, succeeded, "exactly the allocated credits may be consumed")
	assert.Equal(t, attempts-10, exhaustedCount)

	elig, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)
	assert.Equal(t, 0, elig.CreditsRemaining)
	assert.Equal(t, entitlement.TrialExhausted, elig.State)
}

func TestConsumeCreditUnknownDevice(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	_, err := eng.ConsumeCredit(context.Background(), testutil.Identity(99), "sale_recorded", "", "", testutil.Metadata(""))
	require.Error(t, err)
	assert.Equal(t, entitlement.KindNotFound, entitlement.KindOf(err))
}

func TestIdentitySplitFlagsOldRegistrationAndPermitsNew(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.DefaultTrialCredits = 1
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	original := entitlement.Identity{DeviceFingerprint: "fp-original", HardwareSignature: "hw-shared"}
	res, err := eng.CheckEligibility(ctx, original, testutil.Metadata(""))
	require.NoError(t, err)
	_, err = eng.ConsumeCredit(ctx, original, "sale_recorded", "", "", testutil.Metadata(""))
	require.NoError(t, err)

	// Same hardware re-registers under a fresh fingerprint after the
	// trial is spent: permitted, but the original row is flagged.
	split := entitlement.Identity{DeviceFingerprint: "fp-reinstalled", HardwareSignature: "hw-shared"}
	fresh, err := eng.CheckEligibility(ctx, split, testutil.Metadata(""))
	require.NoError(t, err)
	assert.True(t, fresh.Eligible)
	assert.Equal(t, entitlement.ReasonTrialStarted, fresh.Reason)
	assert.NotEqual(t, res.RegistrationID, fresh.RegistrationID)

	activity, err := eng.ActivityForRegistration(ctx, res.RegistrationID)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, entitlement.ActivityTrialReset, activity[0].ActivityType)
	assert.Equal(t, entitlement.SeverityHigh, activity[0].Severity)
}

func TestIdentitySplitOnActiveTrialContinuesExisting(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	original := entitlement.Identity{DeviceFingerprint: "fp-a", HardwareSignature: "hw-a"}
	res, err := eng.CheckEligibility(ctx, original, testutil.Metadata(""))
	require.NoError(t, err)

	// Hardware match with a live trial is treated as the same device.
	drifted := entitlement.Identity{DeviceFingerprint: "fp-b", HardwareSignature: "hw-a"}
	again, err := eng.CheckEligibility(ctx, drifted, testutil.Metadata(""))
	require.NoError(t, err)
	assert.Equal(t, res.RegistrationID, again.RegistrationID)
	assert.Equal(t, entitlement.ReasonTrialActive, again.Reason)
}

func TestRegistrationVolumeHeuristic(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.VolumeThreshold = 2
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	meta := testutil.Metadata("203.0.113.7")
	var lastID string
	for i := 0; i < 3; i++ {
		res, err := eng.CheckEligibility(ctx, testutil.Identity(i), meta)
		require.NoError(t, err)
		assert.True(t, res.Eligible, "volume flag is advisory and never blocks")
		lastID = res.RegistrationID
	}

	activity, err := eng.ActivityForRegistration(ctx, lastID)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, entitlement.ActivityMultipleTrials, activity[0].ActivityType)
	assert.Equal(t, entitlement.SeverityMedium, activity[0].Severity)
}

func TestRevokeTrial(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	id := testutil.Identity(1)

	_, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)

	reg, err := eng.RevokeTrial(ctx, id, "chargeback", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TrialRevoked, reg.State)
	require.NotNil(t, reg.RevokedAt)

	_, err = eng.ConsumeCredit(ctx, id, "sale_recorded", "", "", testutil.Metadata(""))
	require.Error(t, err)
	assert.Equal(t, entitlement.KindInvalidState, entitlement.KindOf(err))

	_, err = eng.RevokeTrial(ctx, id, "again", "admin-1")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindInvalidState, entitlement.KindOf(err))

	activity, err := eng.ActivityForRegistration(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, entitlement.SeverityCritical, activity[0].Severity)
}

func TestExpireStaleTrials(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := eng.CheckEligibility(ctx, testutil.Identity(i), testutil.Metadata(""))
		require.NoError(t, err)
	}

	// Nothing is older than a past cutoff.
	n, err := eng.ExpireStaleTrials(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Everything is older than a future cutoff.
	n, err = eng.ExpireStaleTrials(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	elig, err := eng.CheckEligibility(ctx, testutil.Identity(0), testutil.Metadata(""))
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Equal(t, entitlement.ReasonTrialExpired, elig.Reason)

	// The sweep is idempotent: expired rows are not re-expired.
	n, err = eng.ExpireStaleTrials(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
