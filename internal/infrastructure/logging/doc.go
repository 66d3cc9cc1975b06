// Package logging provides the structured logger used throughout the hub and
// controller binaries. It wraps log/slog with configuration-driven level,
// format, and output selection plus default service fields.
package logging
