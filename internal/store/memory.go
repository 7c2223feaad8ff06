package store

import (
	"context"
	"sync"
	"time"

	"poscore/internal/entitlement"
)

// Memory is an embedded, single-process Store. It backs tests and the
// standalone deployment mode where the engine runs inside the client
// installation. One mutex serializes transactions, which trivially
// satisfies the engine's serialization requirements; rollback restores a
// snapshot taken at transaction start.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	regs        map[string]entitlement.TrialRegistration
	fpIndex     map[string]string
	hwIndex     map[string]string
	ledger      []entitlement.LedgerEntry
	ledgerIdem  map[string]int
	licenses    map[string]entitlement.License
	licKeyIndex map[string]string
	activations []entitlement.ActivationRecord
	actIdem     map[string]int
	activity    []entitlement.SuspiciousActivityRecord
	clients     map[string]entitlement.ClientInstance
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func newMemState() memState {
	return memState{
		regs:        make(map[string]entitlement.TrialRegistration),
		fpIndex:     make(map[string]string),
		hwIndex:     make(map[string]string),
		ledgerIdem:  make(map[string]int),
		licenses:    make(map[string]entitlement.License),
		licKeyIndex: make(map[string]string),
		actIdem:     make(map[string]int),
		clients:     make(map[string]entitlement.ClientInstance),
	}
}

func (s memState) clone() memState {
	c := memState{
		regs:        make(map[string]entitlement.TrialRegistration, len(s.regs)),
		fpIndex:     make(map[string]string, len(s.fpIndex)),
		hwIndex:     make(map[string]string, len(s.hwIndex)),
		ledger:      append([]entitlement.LedgerEntry(nil), s.ledger...),
		ledgerIdem:  make(map[string]int, len(s.ledgerIdem)),
		licenses:    make(map[string]entitlement.License, len(s.licenses)),
		licKeyIndex: make(map[string]string, len(s.licKeyIndex)),
		activations: append([]entitlement.ActivationRecord(nil), s.activations...),
		actIdem:     make(map[string]int, len(s.actIdem)),
		activity:    append([]entitlement.SuspiciousActivityRecord(nil), s.activity...),
		clients:     make(map[string]entitlement.ClientInstance, len(s.clients)),
	}
	for k, v := range s.regs {
		c.regs[k] = v
	}
	for k, v := range s.fpIndex {
		c.fpIndex[k] = v
	}
	for k, v := range s.hwIndex {
		c.hwIndex[k] = v
	}
	for k, v := range s.ledgerIdem {
		c.ledgerIdem[k] = v
	}
	for k, v := range s.licenses {
		c.licenses[k] = v
	}
	for k, v := range s.licKeyIndex {
		c.licKeyIndex[k] = v
	}
	for k, v := range s.actIdem {
		c.actIdem[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	return c
}

// WithTransaction implements Store. The store mutex is held for the whole
// transaction, so fn must not call back into the store's public API.
func (m *Memory) WithTransaction(ctx context.Context, fn func(tx entitlement.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Ping implements Store. The in-memory store is always reachable.
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (m *Memory) Close() {}

type memTx struct {
	m *Memory
}

func (t *memTx) Registrations() entitlement.RegistrationRepo { return (*memRegistrations)(t) }
func (t *memTx) Ledger() entitlement.LedgerRepo              { return (*memLedger)(t) }
func (t *memTx) Licenses() entitlement.LicenseRepo           { return (*memLicenses)(t) }
func (t *memTx) Activations() entitlement.ActivationRepo     { return (*memActivations)(t) }
func (t *memTx) Activity() entitlement.ActivityRepo          { return (*memActivity)(t) }
func (t *memTx) Clients() entitlement.ClientRepo             { return (*memClients)(t) }

type memRegistrations memTx

func (r *memRegistrations) FindByIdentity(ctx context.Context, id entitlement.Identity) (*entitlement.TrialRegistration, error) {
	st := &r.m.state
	if id.DeviceFingerprint != "" {
		if regID, ok := st.fpIndex[id.DeviceFingerprint]; ok {
			reg := st.regs[regID]
			return &reg, nil
		}
	}
	if id.HardwareSignature != "" {
		if regID, ok := st.hwIndex[id.HardwareSignature]; ok {
			reg := st.regs[regID]
			return &reg, nil
		}
	}
	return nil, entitlement.ErrRecordNotFound
}

func (r *memRegistrations) FindByHardwareSignature(ctx context.Context, hw string) (*entitlement.TrialRegistration, error) {
	st := &r.m.state
	if hw != "" {
		if regID, ok := st.hwIndex[hw]; ok {
			reg := st.regs[regID]
			return &reg, nil
		}
	}
	return nil, entitlement.ErrRecordNotFound
}

func (r *memRegistrations) Create(ctx context.Context, reg *entitlement.TrialRegistration) error {
	st := &r.m.state
	if _, ok := st.fpIndex[reg.DeviceFingerprint]; ok {
		return entitlement.ErrDuplicateRecord
	}
	st.regs[reg.ID] = *reg
	st.fpIndex[reg.DeviceFingerprint] = reg.ID
	// The hardware signature is deliberately not unique: an identity-split
	// registration shares it with the spent row it abandoned. The index
	// points at the most recent registration for that signature.
	st.hwIndex[reg.HardwareSignature] = reg.ID
	return nil
}

func (r *memRegistrations) Update(ctx context.Context, reg *entitlement.TrialRegistration) error {
	st := &r.m.state
	if _, ok := st.regs[reg.ID]; !ok {
		return entitlement.ErrRecordNotFound
	}
	st.regs[reg.ID] = *reg
	return nil
}

func (r *memRegistrations) ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*entitlement.TrialRegistration, error) {
	st := &r.m.state
	var out []*entitlement.TrialRegistration
	for _, reg := range st.regs {
		if (reg.State == entitlement.TrialActive || reg.State == entitlement.TrialExhausted) &&
			reg.FirstSeenAt.Before(cutoff) {
			cp := reg
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memLedger memTx

func (l *memLedger) Append(ctx context.Context, entry *entitlement.LedgerEntry) error {
	st := &l.m.state
	if _, ok := st.ledgerIdem[entry.IdempotencyKey]; ok {
		return entitlement.ErrDuplicateRecord
	}
	st.ledger = append(st.ledger, *entry)
	st.ledgerIdem[entry.IdempotencyKey] = len(st.ledger) - 1
	return nil
}

func (l *memLedger) FindByIdempotencyKey(ctx context.Context, key string) (*entitlement.LedgerEntry, error) {
	st := &l.m.state
	idx, ok := st.ledgerIdem[key]
	if !ok {
		return nil, entitlement.ErrRecordNotFound
	}
	entry := st.ledger[idx]
	return &entry, nil
}

func (l *memLedger) ListByRegistration(ctx context.Context, registrationID string) ([]*entitlement.LedgerEntry, error) {
	st := &l.m.state
	var out []*entitlement.LedgerEntry
	for i := range st.ledger {
		if st.ledger[i].RegistrationID == registrationID {
			entry := st.ledger[i]
			out = append(out, &entry)
		}
	}
	return out, nil
}

func (l *memLedger) ListByLicense(ctx context.Context, licenseID string) ([]*entitlement.LedgerEntry, error) {
	st := &l.m.state
	var out []*entitlement.LedgerEntry
	for i := range st.ledger {
		if st.ledger[i].LicenseID == licenseID {
			entry := st.ledger[i]
			out = append(out, &entry)
		}
	}
	return out, nil
}

type memLicenses memTx

func (l *memLicenses) Create(ctx context.Context, lic *entitlement.License) error {
	st := &l.m.state
	if _, ok := st.licKeyIndex[lic.LicenseKey]; ok {
		return entitlement.ErrDuplicateRecord
	}
	st.licenses[lic.ID] = *lic
	st.licKeyIndex[lic.LicenseKey] = lic.ID
	return nil
}

func (l *memLicenses) Update(ctx context.Context, lic *entitlement.License) error {
	st := &l.m.state
	if _, ok := st.licenses[lic.ID]; !ok {
		return entitlement.ErrRecordNotFound
	}
	st.licenses[lic.ID] = *lic
	return nil
}

func (l *memLicenses) FindByKey(ctx context.Context, key string) (*entitlement.License, error) {
	st := &l.m.state
	id, ok := st.licKeyIndex[key]
	if !ok {
		return nil, entitlement.ErrRecordNotFound
	}
	lic := st.licenses[id]
	return &lic, nil
}

func (l *memLicenses) FindByID(ctx context.Context, id string) (*entitlement.License, error) {
	st := &l.m.state
	lic, ok := st.licenses[id]
	if !ok {
		return nil, entitlement.ErrRecordNotFound
	}
	return &lic, nil
}

func (l *memLicenses) ListByClient(ctx context.Context, clientInstanceID string) ([]*entitlement.License, error) {
	st := &l.m.state
	var out []*entitlement.License
	for _, lic := range st.licenses {
		if lic.ClientInstanceID == clientInstanceID {
			cp := lic
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *memLicenses) ListAll(ctx context.Context) ([]*entitlement.License, error) {
	st := &l.m.state
	out := make([]*entitlement.License, 0, len(st.licenses))
	for _, lic := range st.licenses {
		cp := lic
		out = append(out, &cp)
	}
	return out, nil
}

type memActivations memTx

func (a *memActivations) Append(ctx context.Context, rec *entitlement.ActivationRecord) error {
	st := &a.m.state
	if rec.IdempotencyKey != "" {
		if _, ok := st.actIdem[rec.IdempotencyKey]; ok {
			return entitlement.ErrDuplicateRecord
		}
	}
	st.activations = append(st.activations, *rec)
	if rec.IdempotencyKey != "" {
		st.actIdem[rec.IdempotencyKey] = len(st.activations) - 1
	}
	return nil
}

func (a *memActivations) FindByIdempotencyKey(ctx context.Context, key string) (*entitlement.ActivationRecord, error) {
	st := &a.m.state
	idx, ok := st.actIdem[key]
	if !ok {
		return nil, entitlement.ErrRecordNotFound
	}
	rec := st.activations[idx]
	return &rec, nil
}

func (a *memActivations) ListByLicense(ctx context.Context, licenseID string) ([]*entitlement.ActivationRecord, error) {
	st := &a.m.state
	var out []*entitlement.ActivationRecord
	for i := range st.activations {
		if st.activations[i].LicenseID == licenseID {
			rec := st.activations[i]
			out = append(out, &rec)
		}
	}
	return out, nil
}

type memActivity memTx

func (a *memActivity) Append(ctx context.Context, rec *entitlement.SuspiciousActivityRecord) error {
	st := &a.m.state
	st.activity = append(st.activity, *rec)
	return nil
}

func (a *memActivity) ListByRegistration(ctx context.Context, registrationID string) ([]*entitlement.SuspiciousActivityRecord, error) {
	st := &a.m.state
	var out []*entitlement.SuspiciousActivityRecord
	for i := range st.activity {
		if st.activity[i].RegistrationID == registrationID {
			rec := st.activity[i]
			out = append(out, &rec)
		}
	}
	return out, nil
}

type memClients memTx

func (c *memClients) Create(ctx context.Context, client *entitlement.ClientInstance) error {
	st := &c.m.state
	if _, ok := st.clients[client.ID]; ok {
		return entitlement.ErrDuplicateRecord
	}
	st.clients[client.ID] = *client
	return nil
}

func (c *memClients) FindByID(ctx context.Context, id string) (*entitlement.ClientInstance, error) {
	st := &c.m.state
	client, ok := st.clients[id]
	if !ok {
		return nil, entitlement.ErrRecordNotFound
	}
	return &client, nil
}

func (c *memClients) UpdateStatus(ctx context.Context, id string, status entitlement.ClientStatus, at time.Time) error {
	st := &c.m.state
	client, ok := st.clients[id]
	if !ok {
		return entitlement.ErrRecordNotFound
	}
	client.Status = status
	client.UpdatedAt = at
	st.clients[id] = client
	return nil
}
