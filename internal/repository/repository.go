// Package repository contains the persistence contracts for documents.
// Implementations live in subpackages (postgres) and test doubles in mocks.
package repository
