// Package topic tracks topic definitions for a posebridge client.
//
// A Registry holds the publishers and subscriptions the application has
// declared, plus the topics the peer has announced on the current session.
// Definitions outlive sessions; identifiers do not. Rebind assigns fresh
// identifiers and returns the control messages that re-announce every
// definition on a new session.
package topic
