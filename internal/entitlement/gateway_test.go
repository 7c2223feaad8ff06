package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/entitlement"
	"poscore/internal/shared/testutil"
)

func newTestGateway(t *testing.T) *entitlement.Gateway {
	t.Helper()
	eng, _, _ := newTestEngine(t, defaultTestConfig())
	return entitlement.NewGateway(eng, nil)
}

func TestGatewayClientOperations(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	client := testutil.ClientActor()
	id := testutil.Identity(1)

	elig, err := gw.CheckEligibility(ctx, client, id, testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, elig.Eligible)

	res, err := gw.ConsumeCredit(ctx, client, id, "pos_sale", "", "", testutil.Metadata("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, 49, res.CreditsRemaining)
}

func TestGatewayDeniesAdminActionsToClient(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	client := testutil.ClientActor()

	_, err := gw.IssueLicense(ctx, client, testutil.IssueRequest("some-client"))
	require.Error(t, err)
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.RevokeLicense(ctx, client, "lic-1", "reason")
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.RevokeTrial(ctx, client, testutil.Identity(1), "reason")
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.PurchaseCredits(ctx, client, "lic-1", "pack", 10, "", "")
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.GetLicenseStatus(ctx, client, "client-1")
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.GetBillingSummary(ctx, client, "client-1")
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.GetAllLicenses(ctx, client)
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.GetActivationHistory(ctx, client, "lic-1")
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.ExpireStaleTrials(ctx, client, time.Now())
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	_, err = gw.RegisterClientInstance(ctx, client, "Shop")
	assert.Equal(t, entitlement.KindUnauthorized, entitlement.KindOf(err))

	// Denied issuance never reaches the directory.
	licenses, err := gw.GetAllLicenses(ctx, testutil.AdminActor())
	require.NoError(t, err)
	assert.Empty(t, licenses)
}

func TestGatewayAdminFullFlow(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	admin := testutil.AdminActor()
	clientActor := testutil.ClientActor()
	id := testutil.Identity(1)

	client, err := gw.RegisterClientInstance(ctx, admin, "Corner Store")
	require.NoError(t, err)

	lic, err := gw.IssueLicense(ctx, admin, testutil.IssueRequest(client.ID))
	require.NoError(t, err)

	act, err := gw.ActivateLicense(ctx, clientActor, lic.LicenseKey, id, "")
	require.NoError(t, err)
	assert.Equal(t, 1, act.License.ActivationCount)

	summary, err := gw.GetBillingSummary(ctx, admin, client.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, summary.TotalRemaining)

	_, err = gw.RevokeLicense(ctx, admin, lic.ID, "contract ended")
	require.NoError(t, err)
}
