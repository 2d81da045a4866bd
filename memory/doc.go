// Package memory is the conversational memory service.
//
// Manager owns sessions and their append-only messages through a
// core.ConversationStore and keeps the last K messages of every conversation in
// a core.RecentHistory. InMemoryStore and RingHistory are the process-local
// defaults; durable and shared backends live in the sqlite and redis
// subpackages and are selected at wiring time.
//
// Sessions move active → completed → archived. Reopen is the only way back.
// Archived sessions reject appends with core.ErrSessionArchived; the Archiver
// archives idle sessions on a cron schedule.
package memory
