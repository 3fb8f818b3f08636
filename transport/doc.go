/*
Package transport implements the bus transport on top of a queue-and-topic broker.

Sends are buffered in the unit of work and flushed as size-bounded batches on commit.
Deliveries pushed by the broker processor are handed to Receive through a bounded queue
and settled when the unit of work completes or aborts. Publish/subscribe is emulated with
broker subscriptions that forward to the subscriber's input queue.
*/
package transport
