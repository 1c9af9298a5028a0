/*
Package store provides typed access to the document store shared with the
REST front-end.

The Store interface is the surface the controller uses; Mongo implements
it for deployments and Memory for tests and demo mode. Collections not
written by the controller (users, projects, configurations, ...) remain
reachable through the generic helpers on Mongo.

# Allocators

Two allocators guard the shared id namespaces:

Run numbers are strictly monotone and gap-free. A file lock serialises
sibling controller processes on the same host; the increment itself is a
single find-and-modify on the misc singleton, so it is atomic regardless.

Job ids are gap-filling: the allocator sweeps reservations older than one
hour, unions the ids of existing job documents with live reservations,
returns the smallest free positive integer and records a reservation for
it. Callers release the reservation once the job document is persisted;
the TTL reclaims ids leaked by a crash in between. Gap-filling lets the
controller's id space interleave with externally assigned scheduler ids
without ever colliding.
*/
package store
