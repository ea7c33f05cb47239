// Package contentengine is a schema-driven content management engine
// for template-generated applications.
//
// Resources (products, orders, articles, ...) are defined
// declaratively: a static table catalog is resolved into resource
// definitions enriched with UI metadata, input is validated and
// coerced against compiled schemas, reads are translated into safe
// queries over a partitioned key-value store, and every mutation is
// recorded in a tamper-resistant audit trail. All operations are gated
// by subscription tier.
//
// Construct a service with functional options:
//
//	svc, err := contentengine.New(
//	    contentengine.WithStore(memory.New()),
//	    contentengine.WithResolver(resolver),
//	    contentengine.WithValidator(validation.NewEngine()),
//	    contentengine.WithAuditLogger(audit.NewTiered("pro", auditStore)),
//	)
//
// Authentication, billing and infrastructure provisioning live outside
// this package; callers arrive already identified as a Caller.
package contentengine
