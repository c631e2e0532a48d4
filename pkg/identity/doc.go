// Package identity resolves authenticated callers to internal actors.
//
// An Actor is recomputed from durable records on every request; nothing in
// this package caches or provisions identities. The caller's session
// evidence (external subject id + email) is trusted as given; verifying it
// is the login provider's responsibility.
//
// An actor's identity source is a closed union: exactly one of the staff,
// foreign-record, external-contact, or none variants. The foreign-record
// variant is the one sanctioned case where the person reference doubles as
// the contact bridge reference, always with the same value.
package identity
