// Package cda implements the setup provider for Coach Dave Academy.
package cda
