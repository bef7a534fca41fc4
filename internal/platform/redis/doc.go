// Package redis carries task wake-ups between processes over redis pub/sub.
//
// An API-only process publishes a message for every created task; a worker
// process subscribes and wakes its loop. Delivery is best effort: a lost
// message only delays the task until the worker's next poll.
package redis
