// Package config defines the format-agnostic pipeline model produced by
// configuration loaders, along with the Loader interface they implement.
//
// The `config.Model` carries plain strings and durations only. Turning it into
// a validated graph is the job of the pipeline package; concrete loaders, such
// as the HCL one, live in separate packages.
package config
