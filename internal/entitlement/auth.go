package entitlement

// Role is a caller's resolved authorization role. Role resolution itself
// (token verification, directory lookup) is an external collaborator;
// the engine only consumes the resolved string.
type Role string

const (
	// RoleMasterAdmin is the single highest-privilege administrative role.
	RoleMasterAdmin Role = "master_admin"
	// RoleClient is a client installation acting on its own behalf.
	RoleClient Role = "client"
)

// Action names every operation the gateway exposes.
type Action string

const (
	ActionCheckEligibility     Action = "check_eligibility"
	ActionConsumeCredit        Action = "consume_credit"
	ActionActivateLicense      Action = "activate_license"
	ActionIssueLicense         Action = "issue_license"
	ActionRevokeLicense        Action = "revoke_license"
	ActionRevokeTrial          Action = "revoke_trial"
	ActionPurchaseCredits      Action = "purchase_credits"
	ActionGetLicenseStatus     Action = "get_license_status"
	ActionGetBillingSummary    Action = "get_billing_summary"
	ActionListLicenses         Action = "list_licenses"
	ActionGetActivationHistory Action = "get_activation_history"
	ActionExpireTrials         Action = "expire_trials"
	ActionRegisterClient       Action = "register_client"
)

// Actor is the authenticated caller of a gateway operation.
type Actor struct {
	ID   string
	Role Role
}

// Authorizer answers whether a role may perform an action. One interface,
// one policy table; call sites never test role strings directly.
type Authorizer interface {
	Permits(role Role, action Action) bool
}

// policy is the canonical capability table. Client installations get the
// self-service operations; everything administrative needs master_admin.
var policy = map[Action][]Role{
	ActionCheckEligibility:     {RoleClient, RoleMasterAdmin},
	ActionConsumeCredit:        {RoleClient, RoleMasterAdmin},
	ActionActivateLicense:      {RoleClient, RoleMasterAdmin},
	ActionIssueLicense:         {RoleMasterAdmin},
	ActionRevokeLicense:        {RoleMasterAdmin},
	ActionRevokeTrial:          {RoleMasterAdmin},
	ActionPurchaseCredits:      {RoleMasterAdmin},
	ActionGetLicenseStatus:     {RoleMasterAdmin},
	ActionGetBillingSummary:    {RoleMasterAdmin},
	ActionListLicenses:         {RoleMasterAdmin},
	ActionGetActivationHistory: {RoleMasterAdmin},
	ActionExpireTrials:         {RoleMasterAdmin},
	ActionRegisterClient:       {RoleMasterAdmin},
}

// PolicyAuthorizer is the default Authorizer over the canonical table.
type PolicyAuthorizer struct{}

// NewPolicyAuthorizer returns the default authorizer.
func NewPolicyAuthorizer() PolicyAuthorizer { return PolicyAuthorizer{} }

// Permits implements Authorizer.
func (PolicyAuthorizer) Permits(role Role, action Action) bool {
	for _, allowed := range policy[action] {
		if allowed == role {
			return true
		}
	}
	return false
}
