package testutil

import (
	"fmt"

	"poscore/internal/entitlement"
)

// Identity returns a device identity derived from n, distinct per n.
func Identity(n int) entitlement.Identity {
	return entitlement.Identity{
		DeviceFingerprint: fmt.Sprintf("fp-%04d", n),
		HardwareSignature: fmt.Sprintf("hw-%04d", n),
	}
}

// Metadata returns request metadata attributed to the given origin.
func Metadata(origin string) entitlement.Metadata {
	meta := entitlement.NewMetadata(origin)
	meta.AppVersion = "1.0.0-test"
	return meta
}

// AdminActor returns a master admin principal for tests.
func AdminActor() entitlement.Actor {
	return entitlement.Actor{ID: "admin-test", Role: entitlement.RoleMasterAdmin}
}

// ClientActor returns a client installation principal for tests.
func ClientActor() entitlement.Actor {
	return entitlement.Actor{ID: "client-test", Role: entitlement.RoleClient}
}

// IssueRequest returns a valid license issuance request for the client.
func IssueRequest(clientInstanceID string) entitlement.IssueLicenseRequest {
	return entitlement.IssueLicenseRequest{
		ClientInstanceID: clientInstanceID,
		LicenseType:      "standard",
		DurationMonths:   12,
		MaxCredits:       500,
		MaxActivations:   3,
		Features:         []string{"pos", "reports"},
	}
}
