// Package storage defines persistence contracts for the auth service.
//
// Interfaces here are implemented by the sqlite subpackage and by test
// fakes; the service layer depends only on these contracts.
package storage
