// Package helper provides spies for the jstreams observability interfaces and small test helpers
// shared by the test suites of the jstreams packages.
package helper
