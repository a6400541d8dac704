// Package idempotency provides replay protection for settlement execution.
//
// # Overview
//
// Every settlement is executed under a caller-supplied idempotency key. The
// first successful execution for a key is persisted together with a request
// fingerprint. Later executions with the same key either replay the stored
// record (same fingerprint) or fail as a key collision (different
// fingerprint), without calling the facilitator again.
//
// # Usage
//
// Default in-memory backend:
//
//	store := idempotency.NewReplayStore()
//
// Custom TTL:
//
//	store := idempotency.NewReplayStore(
//	    idempotency.WithTTL(24 * time.Hour),
//	)
//
// Shared backends for multi-instance deployments:
//
//	store := idempotency.NewReplayStore(
//	    idempotency.WithBackend(idempotency.NewRedisStore(redisClient, 24*time.Hour)),
//	)
//
//	sqlStore, err := idempotency.NewSQLStore(ctx, db, idempotency.DialectPostgres)
//	store := idempotency.NewReplayStore(idempotency.WithBackend(sqlStore))
//
// # Implementing Custom Backends
//
// A Backend only needs Get and an insert-if-absent Set. Set must never
// overwrite an existing key: that guarantees at most one persisted receipt
// per key even when several processes race the same key.
//
// # How It Works
//
// 1. Claim serialises executions of one key inside the process
// 2. Lookup returns the stored entry, resolving its fingerprint
// 3. Otherwise the caller executes and calls Persist
// 4. A Persist that loses an insert race returns the winning entry
//
// Failed executions are never persisted, allowing legitimate retries.
//
// # Consent Ledger
//
// ConsentLedger reuses the Backend abstraction to record consent a service
// issued, keyed by consentArtifactId. Give it its own backend instance:
//
//	consents, err := idempotency.NewSQLStore(ctx, db, idempotency.DialectPostgres,
//	    idempotency.WithSQLTable("consent_receipts"))
//	ledger := idempotency.NewConsentLedger(consents)
package idempotency
