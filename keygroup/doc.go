// Package keygroup maps keys to key groups and key groups to operator instances.
//
// The key space of a keyed operator is divided into a fixed number of key
// groups (the maximum parallelism). A key always hashes to the same key group;
// key groups, not keys, are the unit of state ownership and routing. With
// parallelism P, instance i owns the contiguous range
//
//	[ceil(i*M/P), ceil((i+1)*M/P))
//
// so ranges differ in size by at most one and every key group belongs to
// exactly one instance. OperatorIndexForKeyGroup is the inverse lookup.
//
// The same functions are used by the control plane to compute default
// allocations and by the data plane (Router) to route records, which keeps
// both sides consistent by construction.
package keygroup
