// Package mocks provides mock implementations for testing the session bootstrap subsystem.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	profiles := mocks.NewMockProfileStore(ctrl)
//	profiles.EXPECT().GetByID(gomock.Any(), "u1").Return(row, nil)
package mocks

// Generate mock for ProfileStore interface from internal/ports.
// This creates MockProfileStore with methods for all ProfileStore interface methods:
// GetByID, Insert, Update
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=profile_store_mock.go github.com/gatherhq/gather-ui-api/internal/ports ProfileStore

// Generate mock for EventJoiner interface from internal/ports.
// This creates MockEventJoiner with methods for all EventJoiner interface methods:
// Join
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=event_joiner_mock.go github.com/gatherhq/gather-ui-api/internal/ports EventJoiner
