// Package store defines the persistence contracts of the task pipeline and the
// accounting collaborators it reports to. Implementations live under
// internal/platform; this package only holds interfaces, sentinel errors and
// the transaction helper shared by all of them.
package store
