// Package builtin wires the shipped provider adapters to their type
// discriminators. Kept separate from package provider so adapters can import
// the contract without a cycle.
package builtin

import (
	"github.com/seantiz/helix/internal/provider"
	"github.com/seantiz/helix/internal/provider/omics"
	"github.com/seantiz/helix/internal/provider/sb"
	"github.com/seantiz/helix/internal/provider/wes"
)

// Factories returns the adapter constructors keyed by provider type.
func Factories() map[string]provider.Factory {
	return map[string]provider.Factory{
		"aws-healthomics": omics.New,
		"sevenbridges":    sb.New,
		"wes":             wes.New,
	}
}
