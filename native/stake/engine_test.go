package stake

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"stakeledger/core/events"
	"stakeledger/crypto"
)

type mockState struct {
	records map[[20]byte]*StakeAccount
	wallets map[[20]byte]uint64
	vaults  map[[20]byte]uint64
}

func newMockState() *mockState {
	return &mockState{
		records: make(map[[20]byte]*StakeAccount),
		wallets: make(map[[20]byte]uint64),
		vaults:  make(map[[20]byte]uint64),
	}
}

func (m *mockState) StakeGet(owner [20]byte) (*StakeAccount, bool, error) {
	record, ok := m.records[owner]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockState) StakePut(record *StakeAccount) error {
	m.records[record.Owner] = record.Clone()
	return nil
}

func (m *mockState) StakeCreate(record *StakeAccount) error {
	if _, ok := m.records[record.Owner]; ok {
		return ErrRecordExists
	}
	m.records[record.Owner] = record.Clone()
	m.vaults[crypto.VaultAddress(record.Owner, record.DerivationNonce)] = 0
	return nil
}

func (m *mockState) SelectNonce(owner [20]byte) (uint8, error) {
	return crypto.FindNonce(owner, func(addr [20]byte) bool {
		_, ok := m.vaults[addr]
		return ok
	})
}

func (m *mockState) VaultDeposit(owner [20]byte, nonce uint8, amount uint64) error {
	vault := crypto.VaultAddress(owner, nonce)
	if _, ok := m.vaults[vault]; !ok {
		return fmt.Errorf("vault not established")
	}
	if m.wallets[owner] < amount {
		return fmt.Errorf("insufficient wallet balance")
	}
	m.wallets[owner] -= amount
	m.vaults[vault] += amount
	return nil
}

func (m *mockState) VaultWithdraw(owner [20]byte, nonce uint8, amount uint64) error {
	vault := crypto.VaultAddress(owner, nonce)
	balance, ok := m.vaults[vault]
	if !ok {
		return fmt.Errorf("vault not established")
	}
	if balance < amount {
		return ErrInsufficientVaultBalance
	}
	m.vaults[vault] = balance - amount
	m.wallets[owner] += amount
	return nil
}

func (m *mockState) vaultBalance(owner [20]byte, nonce uint8) uint64 {
	return m.vaults[crypto.VaultAddress(owner, nonce)]
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func testOwner(fill byte) [20]byte {
	var owner [20]byte
	for i := range owner {
		owner[i] = fill
	}
	return owner
}

func newTestEngine() (*Engine, *mockState, *recordingEmitter) {
	state := newMockState()
	emitter := &recordingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	return engine, state, emitter
}

func TestCreateRecordInitialisesFields(t *testing.T) {
	engine, state, emitter := newTestEngine()
	owner := testOwner(0x01)

	record, err := engine.CreateRecord(owner, 1000)
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if record.Owner != owner {
		t.Fatalf("owner mismatch")
	}
	if record.StakedAmount != 0 || record.TotalPoints != 0 {
		t.Fatalf("new record must start empty: %+v", record)
	}
	if record.LastUpdateTime != 1000 {
		t.Fatalf("last update time = %d, want 1000", record.LastUpdateTime)
	}
	if record.DerivationNonce != 255 {
		t.Fatalf("expected highest free nonce, got %d", record.DerivationNonce)
	}
	if _, ok := state.vaults[crypto.VaultAddress(owner, record.DerivationNonce)]; !ok {
		t.Fatalf("vault not established at derived address")
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected creation event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != events.TypeStakeRecordCreated {
		t.Fatalf("unexpected event type %s", emitter.events[0].EventType())
	}
}

func TestCreateRecordRejectsDuplicate(t *testing.T) {
	engine, _, _ := newTestEngine()
	owner := testOwner(0x02)
	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := engine.CreateRecord(owner, 10); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestStakeMovesFundsIntoVault(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x03)
	state.wallets[owner] = 2_000_000_000

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	record, err := engine.Stake(owner, 1_000_000_000, 0)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if record.StakedAmount != 1_000_000_000 {
		t.Fatalf("staked amount = %d", record.StakedAmount)
	}
	if record.TotalPoints != 0 {
		t.Fatalf("no time elapsed, points must be zero: %d", record.TotalPoints)
	}
	if state.wallets[owner] != 1_000_000_000 {
		t.Fatalf("wallet balance = %d", state.wallets[owner])
	}
	if got := state.vaultBalance(owner, record.DerivationNonce); got != 1_000_000_000 {
		t.Fatalf("vault balance = %d", got)
	}
}

func TestStakeRejectsZeroAmount(t *testing.T) {
	engine, _, _ := newTestEngine()
	owner := testOwner(0x04)
	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Stake(owner, 0, 10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestStakeWithoutRecord(t *testing.T) {
	engine, _, _ := newTestEngine()
	if _, err := engine.Stake(testOwner(0x05), 1, 0); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestMutationsRejectForeignRecord(t *testing.T) {
	engine, state, _ := newTestEngine()
	caller := testOwner(0x06)
	stranger := testOwner(0x07)
	state.wallets[caller] = 1_000
	// A record stored at the caller's slot but owned by someone else must
	// never be mutated on the caller's behalf.
	state.records[caller] = &StakeAccount{Owner: stranger, StakedAmount: 500, TotalPoints: 77, LastUpdateTime: 3}
	before := *state.records[caller]

	if _, err := engine.Stake(caller, 100, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stake: expected unauthorized, got %v", err)
	}
	if _, err := engine.Unstake(caller, 100, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unstake: expected unauthorized, got %v", err)
	}
	if _, err := engine.Claim(caller, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("claim: expected unauthorized, got %v", err)
	}
	if _, err := engine.Points(caller, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("points: expected unauthorized, got %v", err)
	}
	if *state.records[caller] != before {
		t.Fatalf("unauthorized call mutated record: %+v", state.records[caller])
	}
}

func TestPointsAfterOneDayMatchesRate(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x08)
	state.wallets[owner] = 1_000_000_000

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Stake(owner, 1_000_000_000, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	display, err := engine.Points(owner, int64(SecondsPerDay))
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	// One whole unit staked for one day earns exactly the per-day rate in
	// raw points, which is one display point at default precision.
	want := engine.Params().RatePerUnitPerDay / engine.Params().PrecisionFactor
	if display != want {
		t.Fatalf("display points = %d, want %d", display, want)
	}
	stored := state.records[owner]
	if stored.TotalPoints != 0 {
		t.Fatalf("query mutated total points: %d", stored.TotalPoints)
	}
	if stored.LastUpdateTime != 0 {
		t.Fatalf("query mutated timestamp: %d", stored.LastUpdateTime)
	}
}

func TestSequentialStakesWithoutElapsedTime(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x09)
	state.wallets[owner] = 10_000

	if _, err := engine.CreateRecord(owner, 50); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Stake(owner, 3_000, 50); err != nil {
		t.Fatalf("first stake: %v", err)
	}
	record, err := engine.Stake(owner, 4_000, 50)
	if err != nil {
		t.Fatalf("second stake: %v", err)
	}
	if record.StakedAmount != 7_000 {
		t.Fatalf("staked amount = %d, want 7000", record.StakedAmount)
	}
	if record.TotalPoints != 0 {
		t.Fatalf("zero-length gap accrued points: %d", record.TotalPoints)
	}
}

func TestUnstakeReleasesFunds(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x0A)
	state.wallets[owner] = 5_000

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Stake(owner, 5_000, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	record, err := engine.Unstake(owner, 2_000, 100)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if record.StakedAmount != 3_000 {
		t.Fatalf("staked amount = %d, want 3000", record.StakedAmount)
	}
	if state.wallets[owner] != 2_000 {
		t.Fatalf("wallet balance = %d, want 2000", state.wallets[owner])
	}
	if got := state.vaultBalance(owner, record.DerivationNonce); got != 3_000 {
		t.Fatalf("vault balance = %d, want 3000", got)
	}
}

func TestUnstakeExceedingStake(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x0B)
	state.wallets[owner] = 1_000

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Stake(owner, 1_000, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	before := *state.records[owner]
	nonce := before.DerivationNonce
	vaultBefore := state.vaultBalance(owner, nonce)

	if _, err := engine.Unstake(owner, 1_001, 0); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected insufficient stake, got %v", err)
	}
	if *state.records[owner] != before {
		t.Fatalf("failed unstake mutated record")
	}
	if state.vaultBalance(owner, nonce) != vaultBefore {
		t.Fatalf("failed unstake moved vault funds")
	}
}

func TestUnstakeDetectsVaultDesync(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x0C)
	state.wallets[owner] = 1_000

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Stake(owner, 1_000, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	record := state.records[owner]
	// Drain the vault behind the ledger's back so the recorded stake no
	// longer matches the escrowed funds.
	state.vaults[crypto.VaultAddress(owner, record.DerivationNonce)] = 400
	before := *record

	if _, err := engine.Unstake(owner, 1_000, 0); !errors.Is(err, ErrInsufficientVaultBalance) {
		t.Fatalf("expected vault balance error, got %v", err)
	}
	if *state.records[owner] != before {
		t.Fatalf("failed unstake mutated record")
	}
}

func TestClaimResetsPointsAndTruncates(t *testing.T) {
	engine, state, emitter := newTestEngine()
	owner := testOwner(0x0D)
	params := engine.Params()
	state.wallets[owner] = params.UnitsPerToken

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Stake(owner, params.UnitsPerToken, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// A day and a half accrues 1.5 display points; the half below the
	// precision factor is forfeited by the claim.
	now := int64(SecondsPerDay + SecondsPerDay/2)
	claimed, err := engine.Claim(owner, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("claimed = %d, want 1", claimed)
	}
	stored := state.records[owner]
	if stored.TotalPoints != 0 {
		t.Fatalf("claim must reset points, got %d", stored.TotalPoints)
	}
	if stored.LastUpdateTime != now {
		t.Fatalf("claim must settle to now, got %d", stored.LastUpdateTime)
	}
	last := emitter.events[len(emitter.events)-1]
	if last.EventType() != events.TypeStakePointsClaimed {
		t.Fatalf("expected claim event, got %s", last.EventType())
	}

	// Claiming again immediately yields nothing.
	again, err := engine.Claim(owner, now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != 0 {
		t.Fatalf("second claim paid %d", again)
	}
}

func TestStakeOverflowCheckedBeforeTransfer(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x0E)
	state.wallets[owner] = 1_000

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	record := state.records[owner]
	record.StakedAmount = math.MaxUint64 - 10

	if _, err := engine.Stake(owner, 100, 0); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	// The headroom check runs ahead of the external transfer: no funds moved.
	if state.wallets[owner] != 1_000 {
		t.Fatalf("overflowing stake moved wallet funds: %d", state.wallets[owner])
	}
	if got := state.vaultBalance(owner, record.DerivationNonce); got != 0 {
		t.Fatalf("overflowing stake moved vault funds: %d", got)
	}
}

func TestStakeUnstakeConservation(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x0F)
	state.wallets[owner] = 100_000

	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	deltas := []struct {
		stake  bool
		amount uint64
	}{
		{true, 10_000}, {true, 5_000}, {false, 3_000},
		{true, 1_000}, {false, 13_000},
	}
	var expected uint64
	now := int64(0)
	for i, d := range deltas {
		now += 60
		var err error
		if d.stake {
			_, err = engine.Stake(owner, d.amount, now)
			expected += d.amount
		} else {
			_, err = engine.Unstake(owner, d.amount, now)
			expected -= d.amount
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	record := state.records[owner]
	if record.StakedAmount != expected {
		t.Fatalf("staked amount = %d, want %d", record.StakedAmount, expected)
	}
	if got := state.vaultBalance(owner, record.DerivationNonce); got != expected {
		t.Fatalf("vault balance = %d, want %d", got, expected)
	}
	if state.wallets[owner]+expected != 100_000 {
		t.Fatalf("funds not conserved: wallet %d, staked %d", state.wallets[owner], expected)
	}
}

func TestPausedMutationsFailClosed(t *testing.T) {
	engine, state, emitter := newTestEngine()
	owner := testOwner(0x10)
	state.wallets[owner] = 1_000
	if _, err := engine.CreateRecord(owner, 0); err != nil {
		t.Fatalf("create record: %v", err)
	}
	engine.SetPaused(true)

	if _, err := engine.Stake(owner, 100, 10); !errors.Is(err, ErrPaused) {
		t.Fatalf("stake: expected paused, got %v", err)
	}
	if _, err := engine.Unstake(owner, 100, 10); !errors.Is(err, ErrPaused) {
		t.Fatalf("unstake: expected paused, got %v", err)
	}
	if _, err := engine.Claim(owner, 10); !errors.Is(err, ErrPaused) {
		t.Fatalf("claim: expected paused, got %v", err)
	}
	// Queries stay available while paused.
	if _, err := engine.Points(owner, 10); err != nil {
		t.Fatalf("points while paused: %v", err)
	}
	last := emitter.events[len(emitter.events)-1]
	if last.EventType() != events.TypeStakePaused {
		t.Fatalf("expected pause event, got %s", last.EventType())
	}
}

func TestPointsRejectsRewoundClock(t *testing.T) {
	engine, state, _ := newTestEngine()
	owner := testOwner(0x11)
	state.wallets[owner] = 1_000
	if _, err := engine.CreateRecord(owner, 500); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := engine.Points(owner, 499); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected invalid timestamp, got %v", err)
	}
}
