// Package stream implements the async drain pumps that move subprocess
// output lines into in-memory queues. The queues are Go channels, so
// consumers get blocking-receive-with-deadline for free instead of busy
// polling.
package stream
