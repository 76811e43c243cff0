package factory

import (
	_ "embed"
)

//go:embed demo.yaml
var demoYAML []byte

// DemoSeed returns the built-in demo reference data: twelve 2025 periods,
// four employees in shanghai and the default region, the standard insurance
// types with their bands and eligibility rules.
func DemoSeed() (*Seed, error) {
	return NewSeedFactory().ParseYAML(demoYAML)
}
