// Package entitlement implements the license and trial entitlement
// engine: the subsystem that decides whether a client installation may
// operate, tracks a consumable credit balance per device, issues and
// activates paid licenses, and flags attempts to bypass the trial limit
// by re-registering a device.
//
// The engine is organized as five collaborating pieces behind one
// façade:
//
//   - the trial registry (registry.go): one record per physical device
//     with an explicit lifecycle state machine (state.go)
//   - the ledger (ledger.go): append-only, idempotency-keyed record of
//     every balance change
//   - the fraud heuristics (fraud.go): advisory identity-split and
//     volume detection over an immutable activity log
//   - the license directory (directory.go): key issuance, device-bound
//     activation with quota, revocation, purchased credits
//   - the gateway (gateway.go): the only public entry point, enforcing
//     the capability table in auth.go
//
// Every mutating operation runs as one storage transaction; ledger
// entries for a given registration or license are strictly ordered by
// commit order, and balance_after of entry n equals balance_before of
// entry n+1.
package entitlement
