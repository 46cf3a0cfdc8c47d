// Package services defines the shared error taxonomy and context
// annotations used across setupsync components.
package services
