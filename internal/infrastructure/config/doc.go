// Package config loads YAML configuration for the Imaginary Home binaries.
//
// The hub (cloud coordinator) and the relay (in-home controller) each load
// their own configuration tree from a YAML file. Loading order is defaults,
// then file values, then IMAGINARY_* environment variable overrides, then
// validation.
package config
