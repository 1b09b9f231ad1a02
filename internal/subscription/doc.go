// Package subscription implements the client side of a task progress stream.
// A Subscription owns exactly one server-sent-events connection bound to one
// task id. Decoded snapshots are handed to the caller's handler serially, in
// arrival order, from a single reader goroutine. The subscription closes
// itself after a terminal snapshot or a transport failure, and Dispose closes
// it on demand; all three closed states are final.
package subscription
