// Package workpool runs units of work from a FIFO queue with a hard cap on
// concurrency.
//
// Each Pool owns one dispatch goroutine. On every pass the loop reaps
// finished tasks, hands successful items to the optional Next function, and
// launches queued items while fewer than Limit tasks are active. Between
// passes it blocks until an item is submitted, a task finishes, or the poll
// interval elapses. Submit never blocks. Drain waits for the queue and all
// active tasks to empty, then stops the loop.
//
// Tasks run on a context detached from the Start context's cancellation, so
// draining never aborts remote calls that are already in flight.
package workpool
