// Package testing provides shared test utilities and fakes.
//
// This package centralizes common testing patterns to avoid duplication
// across test files:
//   - FakeRunner: scripted stand-in for the SSH remote executor
//   - Fixture: pre-seeded in-memory store with an org, server, and project
//
// Usage:
//
//	runner := testing.NewFakeRunner()
//	runner.On("rollout status", testing.FailResult("deadline exceeded"))
//
//	fx := testing.NewFixture(t)
//	deploy := fx.TriggeredDeploy("v1.2.3")
package testing
