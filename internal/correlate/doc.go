// Package correlate implements request/response correlation over the
// stdout drain queue: one pending exchange per in-flight id, bounded by a
// deadline, resolving every sent request to exactly one terminal outcome.
package correlate
