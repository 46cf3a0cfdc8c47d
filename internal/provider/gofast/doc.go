// Package gofast implements the setup provider for the GoFast service.
package gofast
