// Package core provides the domain models and interfaces for the
// production workflow engine.
//
// This package contains:
//   - Job, JobPlanning, Step and detail-record models with GORM annotations
//   - The fixed step-name and machine-type enums
//   - The finished-goods ledger and dispatch record models
//   - The Storage interface defining the persistence contract
//   - Error types shared by the engine packages
//
// Most users should import the root package github.com/corrugo/prodflow
// instead of this package directly.
package core
