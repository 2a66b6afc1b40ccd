// Package server composes and runs the auth process boundary.
//
// It hosts the HTTP JSON API over a single SQLite store so every
// authentication decision is made from one source of truth, and runs the
// background sweep for expired codes, challenges, and sessions.
package server
