// Package testutil contains helper builders and shared test suites used
// across packages to reduce boilerplate when constructing core model objects
// (tasks, sessions, messages, agent results) and to run the same behavioural
// checks against every ConversationStore backend. Not intended for production
// usage.
package testutil
