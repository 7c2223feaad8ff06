package entitlement_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/entitlement"
	"poscore/internal/notify"
	"poscore/internal/shared/testutil"
)

func TestIssueLicense(t *testing.T) {
	eng, _, notifier := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	client, err := eng.RegisterClientInstance(ctx, "Corner Store #12")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ClientTrial, client.Status)

	lic, err := eng.IssueLicense(ctx, testutil.IssueRequest(client.ID), "admin-1")
	require.NoError(t, err)

	require.NoError(t, entitlement.ValidateKeyFormat(lic.LicenseKey))
	assert.Equal(t, entitlement.LicenseActive, lic.Status)
	assert.Equal(t, 500, lic.MaxCredits)
	assert.Equal(t, 500, lic.CurrentCredits)
	assert.Equal(t, 3, lic.MaxActivations)
	assert.False(t, lic.IsBound())
	assert.WithinDuration(t, time.Now().AddDate(1, 0, 0), lic.ExpiresAt, time.Minute)

	// Issuance grants the full balance as a ledger entry.
	entries, err := eng.LedgerForLicense(ctx, lic.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entitlement.EntryGrant, entries[0].EntryType)
	assert.Equal(t, 500, entries[0].Amount)
	assert.Equal(t, 0, entries[0].BalanceBefore)
	assert.Equal(t, 500, entries[0].BalanceAfter)

	// The client instance moves to ACTIVE.
	view, err := eng.GetLicenseStatus(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ClientActive, view.ClientStatus)
	require.Len(t, view.Licenses, 1)

	events := notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventLicenseIssued, events[0].Type)
	assert.Equal(t, client.ID, events[0].ClientInstanceID)
}

func TestIssueLicenseUnknownClient(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	_, err := eng.IssueLicense(context.Background(), testutil.IssueRequest(uuid.New().String()), "admin-1")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindNotFound, entitlement.KindOf(err))
}

func TestIssueLicenseValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	req := testutil.IssueRequest("")
	_, err := eng.IssueLicense(ctx, req, "admin-1")
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))

	req = testutil.IssueRequest(uuid.New().String())
	req.DurationMonths = 0
	_, err = eng.IssueLicense(ctx, req, "admin-1")
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))

	req = testutil.IssueRequest(uuid.New().String())
	req.MaxCredits = 0
	_, err = eng.IssueLicense(ctx, req, "admin-1")
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))
}

func issueTestLicense(t *testing.T, eng *entitlement.Engine) *entitlement.License {
	t.Helper()
	ctx := context.Background()
	client, err := eng.RegisterClientInstance(ctx, "Test Client")
	require.NoError(t, err)
	lic, err := eng.IssueLicense(ctx, testutil.IssueRequest(client.ID), "admin-1")
	require.NoError(t, err)
	return lic
}

func TestActivateLicenseBindsDeviceAndGraduatesTrial(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	id := testutil.Identity(1)

	trial, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)

	lic := issueTestLicense(t, eng)
	res, err := eng.ActivateLicense(ctx, lic.LicenseKey, id, "act-1")
	require.NoError(t, err)

	assert.True(t, res.TrialTransitioned)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, res.License.ActivationCount)
	assert.Equal(t, id.DeviceFingerprint, res.License.DeviceFingerprint)
	assert.Equal(t, id.HardwareSignature, res.License.HardwareSignature)

	// The trial registration is now ACTIVATED and out of credits play.
	elig, err := eng.CheckEligibility(ctx, id, testutil.Metadata(""))
	require.NoError(t, err)
	assert.Equal(t, trial.RegistrationID, elig.RegistrationID)
	assert.False(t, elig.Eligible)
	assert.Equal(t, entitlement.ReasonAlreadyLicensed, elig.Reason)

	history, err := eng.GetActivationHistory(ctx, lic.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id.DeviceFingerprint, history[0].DeviceFingerprint)
}

func TestActivateLicenseWithoutTrial(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	lic := issueTestLicense(t, eng)

	res, err := eng.ActivateLicense(context.Background(), lic.LicenseKey, testutil.Identity(1), "")
	require.NoError(t, err)
	assert.False(t, res.TrialTransitioned, "direct purchase has no trial to graduate")
}

func TestActivateLicenseAcceptsUnnormalizedKey(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	lic := issueTestLicense(t, eng)

	loose := " " + strings.ToLower(strings.ReplaceAll(lic.LicenseKey, "-", "")) + " "
	res, err := eng.ActivateLicense(context.Background(), loose, testutil.Identity(1), "")
	require.NoError(t, err)
	assert.Equal(t, lic.ID, res.License.ID)
}

func TestActivateLicenseIdempotentReplay(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)
	id := testutil.Identity(1)

	first, err := eng.ActivateLicense(ctx, lic.LicenseKey, id, "act-retry")
	require.NoError(t, err)
	replay, err := eng.ActivateLicense(ctx, lic.LicenseKey, id, "act-retry")
	require.NoError(t, err)

	assert.True(t, replay.Replayed)
	assert.Equal(t, first.License.ActivationCount, replay.License.ActivationCount)

	history, err := eng.GetActivationHistory(ctx, lic.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "replay must not append a second activation record")
}

func TestActivateLicenseBindingConflict(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	_, err := eng.ActivateLicense(ctx, lic.LicenseKey, testutil.Identity(1), "")
	require.NoError(t, err)

	_, err = eng.ActivateLicense(ctx, lic.LicenseKey, testutil.Identity(2), "")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindConflict, entitlement.KindOf(err))

	// The original binding is untouched.
	view, err := eng.GetLicenseStatus(ctx, lic.ClientInstanceID)
	require.NoError(t, err)
	require.Len(t, view.Licenses, 1)
	assert.Equal(t, testutil.Identity(1).DeviceFingerprint, view.Licenses[0].DeviceFingerprint)
}

func TestActivateLicenseActivationCap(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	client, err := eng.RegisterClientInstance(ctx, "Cap Client")
	require.NoError(t, err)
	req := testutil.IssueRequest(client.ID)
	req.MaxActivations = 2
	lic, err := eng.IssueLicense(ctx, req, "admin-1")
	require.NoError(t, err)

	id := testutil.Identity(1)
	for i := 0; i < 2; i++ {
		_, err = eng.ActivateLicense(ctx, lic.LicenseKey, id, "")
		require.NoError(t, err)
	}

	_, err = eng.ActivateLicense(ctx, lic.LicenseKey, id, "")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindConflict, entitlement.KindOf(err))
}

func TestActivateLicenseUnknownKey(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	_, err := eng.ActivateLicense(context.Background(), "POS-ABCD-EFGH-JKMN-PQRS", testutil.Identity(1), "")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindNotFound, entitlement.KindOf(err))
}

func TestActivateRevokedLicense(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	_, err := eng.RevokeLicense(ctx, lic.ID, "non-payment", "admin-1")
	require.NoError(t, err)

	_, err = eng.ActivateLicense(ctx, lic.LicenseKey, testutil.Identity(1), "")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindInvalidState, entitlement.KindOf(err))
}

func TestActivateExpiredLicense(t *testing.T) {
	eng, mem, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	// Age the license past its expiry directly in storage.
	err := mem.WithTransaction(ctx, func(tx entitlement.Tx) error {
		aged, err := tx.Licenses().FindByID(ctx, lic.ID)
		if err != nil {
			return err
		}
		aged.ExpiresAt = time.Now().Add(-time.Hour)
		return tx.Licenses().Update(ctx, aged)
	})
	require.NoError(t, err)

	_, err = eng.ActivateLicense(ctx, lic.LicenseKey, testutil.Identity(1), "")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindExpired, entitlement.KindOf(err))
}

func TestRevokeLicense(t *testing.T) {
	eng, _, notifier := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	revoked, err := eng.RevokeLicense(ctx, lic.ID, "chargeback", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.LicenseRevoked, revoked.Status)
	assert.Equal(t, "chargeback", revoked.RevokeReason)
	assert.Equal(t, "admin-1", revoked.RevokedBy)
	require.NotNil(t, revoked.RevokedAt)

	// The bound client instance is suspended.
	view, err := eng.GetLicenseStatus(ctx, lic.ClientInstanceID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ClientSuspended, view.ClientStatus)

	// Revocation is not reversible, and not repeatable.
	_, err = eng.RevokeLicense(ctx, lic.ID, "again", "admin-1")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindInvalidState, entitlement.KindOf(err))

	events := notifier.Events()
	require.Len(t, events, 2) // issued, then revoked
	assert.Equal(t, notify.EventLicenseRevoked, events[1].Type)
}

func TestRevokeLicenseRequiresReason(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	lic := issueTestLicense(t, eng)

	_, err := eng.RevokeLicense(context.Background(), lic.ID, "", "admin-1")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))
}

func TestPurchaseCredits(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	res, err := eng.PurchaseCredits(ctx, lic.ID, "booster-100", 100, "invoice-7", "pur-1")
	require.NoError(t, err)
	assert.Equal(t, 600, res.License.CurrentCredits)
	assert.Equal(t, entitlement.EntryPurchase, res.Entry.EntryType)
	assert.Equal(t, 100, res.Entry.Amount)
	assert.Equal(t, "credit_purchase:booster-100", res.Entry.Action)

	replay, err := eng.PurchaseCredits(ctx, lic.ID, "booster-100", 100, "invoice-7", "pur-1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, 600, replay.License.CurrentCredits, "replay must not double-credit")
}

func TestLedgerReplayReconstructsLicenseBalance(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	_, err := eng.PurchaseCredits(ctx, lic.ID, "booster-100", 100, "invoice-1", "pur-1")
	require.NoError(t, err)
	res, err := eng.PurchaseCredits(ctx, lic.ID, "booster-250", 250, "invoice-2", "pur-2")
	require.NoError(t, err)

	entries, err := eng.LedgerForLicense(ctx, lic.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, entitlement.EntryGrant, entries[0].EntryType)

	// The grant opens the chain at zero; every later entry continues
	// from the previous balance, and the replayed sum is the license's
	// live balance.
	balance := 0
	for i, entry := range entries {
		assert.Equal(t, balance, entry.BalanceBefore, "entry %d", i)
		assert.Equal(t, entry.BalanceBefore+entry.Amount, entry.BalanceAfter, "entry %d", i)
		balance = entry.BalanceAfter
	}
	assert.Equal(t, 850, balance)
	assert.Equal(t, res.License.CurrentCredits, balance)
}

func TestPurchaseCreditsOnRevokedLicense(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	_, err := eng.RevokeLicense(ctx, lic.ID, "fraud", "admin-1")
	require.NoError(t, err)

	_, err = eng.PurchaseCredits(ctx, lic.ID, "booster-100", 100, "", "")
	require.Error(t, err)
	assert.Equal(t, entitlement.KindInvalidState, entitlement.KindOf(err))
}

func TestPurchaseCreditsValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	_, err := eng.PurchaseCredits(ctx, "", "pack", 10, "", "")
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))

	_, err = eng.PurchaseCredits(ctx, uuid.New().String(), "pack", 0, "", "")
	assert.Equal(t, entitlement.KindValidation, entitlement.KindOf(err))

	_, err = eng.PurchaseCredits(ctx, uuid.New().String(), "pack", 10, "", "")
	assert.Equal(t, entitlement.KindNotFound, entitlement.KindOf(err))
}

func TestGetBillingSummary(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()
	lic := issueTestLicense(t, eng)

	_, err := eng.PurchaseCredits(ctx, lic.ID, "booster-100", 100, "invoice-9", "")
	require.NoError(t, err)

	summary, err := eng.GetBillingSummary(ctx, lic.ClientInstanceID)
	require.NoError(t, err)

	assert.Equal(t, lic.ClientInstanceID, summary.ClientInstanceID)
	assert.Equal(t, 600, summary.TotalPurchased) // 500 grant + 100 purchase
	assert.Equal(t, 0, summary.TotalConsumed)
	assert.Equal(t, 600, summary.TotalRemaining)
	require.Len(t, summary.Licenses, 1)
	assert.Equal(t, lic.ID, summary.Licenses[0].LicenseID)
}

func TestGetBillingSummaryUnknownClient(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	_, err := eng.GetBillingSummary(context.Background(), uuid.New().String())
	require.Error(t, err)
	assert.Equal(t, entitlement.KindNotFound, entitlement.KindOf(err))
}

func TestGetAllLicenses(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	ctx := context.Background()

	licenses, err := eng.GetAllLicenses(ctx)
	require.NoError(t, err)
	assert.Empty(t, licenses)

	issueTestLicense(t, eng)
	issueTestLicense(t, eng)

	licenses, err = eng.GetAllLicenses(ctx)
	require.NoError(t, err)
	assert.Len(t, licenses, 2)
}

func TestGetActivationHistoryUnknownLicense(t *testing.T) {
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	_, err := eng.GetActivationHistory(context.Background(), uuid.New().String())
	require.Error(t, err)
	assert.Equal(t, entitlement.KindNotFound, entitlement.KindOf(err))
}
