// Package scenario implements the conversation driver: strictly
// sequential steps with data dependencies, skip propagation, saved-value
// extraction, and the immutable per-run report. Scenarios can be built
// programmatically or loaded from declarative YAML suite files.
package scenario
