// Package sharesync implements an asynchronous pipeline for bulk
// permission and folder operations against a document-management site.
//
// Uploaded batches become durable jobs composed of items. Each item is
// published to a priority queue on the broker, consumed by a worker,
// dispatched to the handler for its operation kind, and driven through a
// counted retry policy. Items that exhaust their retry budget are
// escalated to a dead-letter queue. A shared throttle controller watches
// for upstream rate-limiting and adapts the pacing of the whole pipeline.
//
// # Architecture
//
// ShareSync follows a composable store pattern: the job and joblog
// packages define their own store interfaces, and a single backend
// (postgres, sqlite, redis, or memory) implements all of them. The
// broker package defines the transport contract, implemented for
// RabbitMQ and in-process memory.
//
//	producer.CreateJob → job.Store (ledger) → broker.Transport (publish)
//	  → worker.Pool (consume) → handler (site call)
//	  → worker.Dispatcher (retry / escalate) → throttle.Controller
//
// The ledger is the single source of truth for job and item status; no
// component keeps an authoritative in-memory copy.
package sharesync
