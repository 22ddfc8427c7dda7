package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/claims-pipeline/core"
	pipelinemigrations "github.com/goliatone/claims-pipeline/migrations"
	sqlstore "github.com/goliatone/claims-pipeline/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "claims-pipeline-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:claims-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = pipelinemigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != pipelinemigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, pipelinemigrations.WithValidationTargets(pipelinemigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newTestFactory(t *testing.T) (*sqlstore.RepositoryFactory, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, cleanup
}

func seedClaim(t *testing.T, factory *sqlstore.RepositoryFactory, id string, reference string) core.ClaimRef {
	t.Helper()
	claim, err := factory.ClaimDirectory().Upsert(context.Background(), core.ClaimRef{
		ID:              id,
		ReferenceNumber: reference,
	})
	if err != nil {
		t.Fatalf("seed claim %s: %v", id, err)
	}
	return claim
}

func adjudicatedEvent(eventID string, hash string) core.InboundEvent {
	return core.InboundEvent{
		EventID:       eventID,
		EventType:     core.EventTypeRequestAdjudicated,
		RequestIDHash: hash,
		OccurredAt:    time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Chain: core.ChainRef{
			ChainID:     "137",
			BlockNumber: 4821,
			LogIndex:    7,
		},
		Adjudication: &core.AdjudicationDecision{
			Outcome:            core.AdjudicationOutcomeApproved,
			AllowedAmountCents: 125000,
			Rail:               "dental",
		},
		Raw: []byte(`{"eventId":"` + eventID + `"}`),
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{
		"claims",
		"claim_idempotency_records",
		"claim_inbound_events",
		"claim_submission_jobs",
		"claim_status_events",
		"claim_audit_entries",
	} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestIdempotencyLedgerStore_ReserveAndTransition(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	ledger := factory.IdempotencyLedger()

	outcome, err := ledger.CheckAndReserve(ctx, "evt-1")
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if outcome != core.ReservationFirstSeen {
		t.Fatalf("expected first_seen, got %s", outcome)
	}

	outcome, err = ledger.CheckAndReserve(ctx, "evt-1")
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if outcome != core.ReservationAlreadyPending {
		t.Fatalf("expected already_pending while unapplied, got %s", outcome)
	}

	if err := ledger.MarkApplied(ctx, "evt-1"); err != nil {
		t.Fatalf("mark applied: %v", err)
	}

	outcome, err = ledger.CheckAndReserve(ctx, "evt-1")
	if err != nil {
		t.Fatalf("reserve after apply: %v", err)
	}
	if outcome != core.ReservationAlreadyApplied {
		t.Fatalf("expected already_applied, got %s", outcome)
	}

	// Re-marking the same terminal state is a no-op; flipping is not.
	if err := ledger.MarkApplied(ctx, "evt-1"); err != nil {
		t.Fatalf("idempotent mark applied: %v", err)
	}
	if err := ledger.MarkRejected(ctx, "evt-1"); err == nil {
		t.Fatalf("expected rejection of applied->rejected transition")
	}

	record, err := ledger.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != core.IdempotencyStatusApplied {
		t.Fatalf("expected applied status, got %s", record.Status)
	}

	if _, err := ledger.Get(ctx, "evt-missing"); !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestIdempotencyLedgerStore_RejectedIsDistinctFromApplied(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	ledger := factory.IdempotencyLedger()

	if _, err := ledger.CheckAndReserve(ctx, "evt-rej-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.MarkRejected(ctx, "evt-rej-1"); err != nil {
		t.Fatalf("mark rejected: %v", err)
	}

	outcome, err := ledger.CheckAndReserve(ctx, "evt-rej-1")
	if err != nil {
		t.Fatalf("reserve after reject: %v", err)
	}
	if outcome != core.ReservationAlreadyRejected {
		t.Fatalf("expected already_rejected, got %s", outcome)
	}

	record, err := ledger.Get(ctx, "evt-rej-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != core.IdempotencyStatusRejected {
		t.Fatalf("expected rejected status, got %s", record.Status)
	}
}

func TestIdempotencyLedgerStore_ConcurrentReserveSingleWinner(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	ledger := factory.IdempotencyLedger()

	const workers = 12
	var wg sync.WaitGroup
	outcomes := make(chan core.ReservationOutcome, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcome, err := ledger.CheckAndReserve(ctx, "evt-race")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			outcomes <- outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	firstSeen := 0
	for outcome := range outcomes {
		if outcome == core.ReservationFirstSeen {
			firstSeen++
		}
	}
	if firstSeen != 1 {
		t.Fatalf("expected exactly one first_seen outcome, got %d", firstSeen)
	}
}

func TestInboundEventStore_RecordCollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	store := factory.InboundEventStore()
	event := adjudicatedEvent("evt-arch-1", "hash-1")

	if _, err := store.Record(ctx, event); err != nil {
		t.Fatalf("first record: %v", err)
	}

	// The replayed copy carries a different payload; the archive keeps the
	// first-seen version.
	replay := adjudicatedEvent("evt-arch-1", "hash-1")
	replay.Adjudication.AllowedAmountCents = 999999
	stored, err := store.Record(ctx, replay)
	if err != nil {
		t.Fatalf("duplicate record: %v", err)
	}
	if stored.Adjudication == nil || stored.Adjudication.AllowedAmountCents != 125000 {
		t.Fatalf("expected first-seen payload to survive, got %+v", stored.Adjudication)
	}

	fetched, err := store.Get(ctx, "evt-arch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.EventType != core.EventTypeRequestAdjudicated {
		t.Fatalf("unexpected event type %s", fetched.EventType)
	}
	if fetched.Chain.BlockNumber != 4821 || fetched.Chain.LogIndex != 7 {
		t.Fatalf("chain provenance lost: %+v", fetched.Chain)
	}
	if string(fetched.Raw) != `{"eventId":"evt-arch-1"}` {
		t.Fatalf("raw payload lost: %s", fetched.Raw)
	}

	if _, err := store.Get(ctx, "evt-missing"); !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestSubmissionJobStore_SingleActiveJobPerClaimAndRail(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	jobs := factory.SubmissionJobStore()

	first, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-1", Rail: "dental"})
	if err != nil {
		t.Fatalf("create first job: %v", err)
	}
	if first.Status != core.SubmissionJobStatusQueued {
		t.Fatalf("expected queued, got %s", first.Status)
	}
	if first.IdempotencyToken == "" {
		t.Fatalf("expected minted idempotency token")
	}

	if _, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-1", Rail: "dental"}); !errors.Is(err, core.ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}

	// A different rail for the same claim holds its own slot.
	if _, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-1", Rail: "medical"}); err != nil {
		t.Fatalf("create medical job: %v", err)
	}

	// A terminal job releases the slot.
	if err := jobs.MarkFailed(ctx, first.ID, "permanent"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-1", Rail: "dental"}); err != nil {
		t.Fatalf("re-enqueue after terminal: %v", err)
	}
}

func TestSubmissionJobStore_ClaimDueFIFOAndRetryGating(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	jobs := factory.SubmissionJobStore()
	base := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	current := base
	jobs.Now = func() time.Time { return current }

	older, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-a", Rail: "dental"})
	if err != nil {
		t.Fatalf("create older: %v", err)
	}
	current = base.Add(time.Second)
	newer, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-b", Rail: "dental"})
	if err != nil {
		t.Fatalf("create newer: %v", err)
	}

	claimed, err := jobs.ClaimDue(ctx, current, 1)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != older.ID {
		t.Fatalf("expected FIFO claim of %s, got %+v", older.ID, claimed)
	}
	if claimed[0].Status != core.SubmissionJobStatusInFlight || claimed[0].AttemptCount != 1 {
		t.Fatalf("expected in-flight attempt=1, got %+v", claimed[0])
	}

	// An in-flight job is not reclaimed.
	claimed, err = jobs.ClaimDue(ctx, current, 10)
	if err != nil {
		t.Fatalf("second claim due: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != newer.ID {
		t.Fatalf("expected only %s due, got %+v", newer.ID, claimed)
	}

	// A scheduled retry stays invisible until its time arrives.
	retryAt := current.Add(2 * time.Minute)
	if err := jobs.MarkRetryScheduled(ctx, older.ID, "rail 502", retryAt); err != nil {
		t.Fatalf("mark retry scheduled: %v", err)
	}
	claimed, err = jobs.ClaimDue(ctx, current.Add(30*time.Second), 10)
	if err != nil {
		t.Fatalf("early claim due: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected nothing due before retry time, got %+v", claimed)
	}
	claimed, err = jobs.ClaimDue(ctx, retryAt, 10)
	if err != nil {
		t.Fatalf("due claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != older.ID || claimed[0].AttemptCount != 2 {
		t.Fatalf("expected retry attempt=2 for %s, got %+v", older.ID, claimed)
	}
}

func TestSubmissionJobStore_ReclaimsExpiredLeases(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	jobs := factory.SubmissionJobStore()
	jobs.LeaseTimeout = time.Minute
	base := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	jobs.Now = func() time.Time { return base }

	job, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-1", Rail: "dental"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	claimed, err := jobs.ClaimDue(ctx, base, 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 1 || claimed[0].LeaseExpiresAt == nil {
		t.Fatalf("claimed job should carry a lease, got %+v", claimed)
	}

	// The lease keeps the row invisible while the claiming worker is live.
	held, err := jobs.ClaimDue(ctx, base.Add(30*time.Second), 10)
	if err != nil {
		t.Fatalf("held claim due: %v", err)
	}
	if len(held) != 0 {
		t.Fatalf("leased job must not be reclaimed early, got %+v", held)
	}

	// A worker crash between claim and mark leaves the row in flight; once
	// the lease lapses the next pass takes it as a fresh attempt.
	reclaimed, err := jobs.ClaimDue(ctx, base.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != job.ID || reclaimed[0].AttemptCount != 2 {
		t.Fatalf("expected stranded job reclaimed as attempt 2, got %+v", reclaimed)
	}

	// Terminal transitions drop the lease, so the row never matches again.
	if err := jobs.MarkSucceeded(ctx, job.ID); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	fetched, err := jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.LeaseExpiresAt != nil {
		t.Fatalf("terminal job should not hold a lease, got %+v", fetched.LeaseExpiresAt)
	}
	late, err := jobs.ClaimDue(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("late claim due: %v", err)
	}
	if len(late) != 0 {
		t.Fatalf("terminal job must never be reclaimed, got %+v", late)
	}
}

func TestSubmissionJobStore_TerminalJobsAreImmutable(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	jobs := factory.SubmissionJobStore()
	job, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-1", Rail: "dental"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := jobs.MarkSucceeded(ctx, job.ID); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := jobs.MarkFailed(ctx, job.ID, "late failure"); err == nil {
		t.Fatalf("expected terminal job to reject transition")
	}
	if err := jobs.MarkRetryScheduled(ctx, job.ID, "late retry", time.Now()); err == nil {
		t.Fatalf("expected terminal job to reject retry scheduling")
	}

	fetched, err := jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Status != core.SubmissionJobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", fetched.Status)
	}
}

func TestSubmissionJobStore_ConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	jobs := factory.SubmissionJobStore()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := jobs.CreateExclusive(ctx, core.SubmissionJob{ClaimID: "claim-race", Rail: "dental"})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			if !errors.Is(err, core.ErrSubmissionInFlight) {
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one created job, got %d", created)
	}
}

func TestStatusEventStore_AppendAndOrderedHistory(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	store := factory.StatusEventStore()
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	// Appended out of order on purpose.
	events := []core.StatusEvent{
		{ClaimID: "claim-1", Source: core.StatusSourceInboundWebhook, Kind: core.StatusKindAdjudicated, Timestamp: base.Add(time.Hour), BlockNumber: 4821, LogIndex: 3},
		{ClaimID: "claim-1", Source: core.StatusSourceOutboundSubmission, Kind: core.StatusKindSubmitted, Timestamp: base},
		{ClaimID: "claim-1", Source: core.StatusSourceInboundWebhook, Kind: core.StatusKindAcknowledged, Timestamp: base.Add(time.Hour), BlockNumber: 4821, LogIndex: 1},
		{ClaimID: "claim-2", Source: core.StatusSourceOutboundSubmission, Kind: core.StatusKindSubmitted, Timestamp: base},
	}
	for _, event := range events {
		if _, err := store.Append(ctx, event); err != nil {
			t.Fatalf("append %s: %v", event.Kind, err)
		}
	}

	history, err := store.ListByClaim(ctx, "claim-1")
	if err != nil {
		t.Fatalf("list by claim: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 events for claim-1, got %d", len(history))
	}
	kinds := []string{history[0].Kind, history[1].Kind, history[2].Kind}
	want := []string{core.StatusKindSubmitted, core.StatusKindAcknowledged, core.StatusKindAdjudicated}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, kinds)
		}
	}
}

func TestAuditEntryStore_AppendOnlyTrail(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	store := factory.AuditStore()
	entry, err := store.Append(ctx, core.AuditEntry{
		SubjectID:   "evt-1",
		SubjectKind: core.AuditSubjectEvent,
		Action:      "event.applied",
		Outcome:     "REQUEST_ADJUDICATED",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp filled, got %+v", entry)
	}
	if entry.ActorType != core.AuditActorSystem {
		t.Fatalf("expected SYSTEM actor, got %s", entry.ActorType)
	}

	entries, err := store.ListBySubject(ctx, "evt-1")
	if err != nil {
		t.Fatalf("list by subject: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "event.applied" {
		t.Fatalf("unexpected trail %+v", entries)
	}
}

func TestClaimDirectoryStore_LookupsAndAdjudication(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newTestFactory(t)
	defer cleanup()

	directory := factory.ClaimDirectory()
	seedClaim(t, factory, "claim-1", "REF-001")

	claim, err := directory.Get(ctx, "claim-1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if claim.ReferenceNumber != "REF-001" {
		t.Fatalf("unexpected claim %+v", claim)
	}
	if _, err := directory.GetByReferenceNumber(ctx, "REF-001"); err != nil {
		t.Fatalf("get by reference: %v", err)
	}
	if _, err := directory.Get(ctx, "claim-missing"); !errors.Is(err, core.ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound, got %v", err)
	}

	event := adjudicatedEvent("evt-adj", "hash-1")
	event.Adjudication.RailTrackingID = "trk-88"
	if err := directory.ApplyAdjudication(ctx, "claim-1", event); err != nil {
		t.Fatalf("apply adjudication: %v", err)
	}

	// The tracking id written by the adjudication becomes resolvable.
	claim, err = directory.GetByRailTrackingID(ctx, "trk-88")
	if err != nil {
		t.Fatalf("get by tracking id: %v", err)
	}
	if claim.ID != "claim-1" {
		t.Fatalf("expected claim-1, got %+v", claim)
	}

	if err := directory.ApplyAdjudication(ctx, "claim-missing", event); !errors.Is(err, core.ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound, got %v", err)
	}
}
