// Package bridge forwards component updates from the replicated world state
// to a host and exposes the world's one mutating action to it.
//
// A Bridge is an explicit instance with an explicit lifecycle:
//
//	Uninitialized -> Initializing -> Ready
//	                              -> Failed
//
// Initialize runs the Bootstrapper once, subscribes to the designated
// component's update stream and starts the dev-tools Mounter without waiting
// for it. Each update is logged and handed to the current host Hook on the
// subscription's delivery goroutine, one at a time, in the order the replica
// produced them.
//
// SubmitAction invokes the action function obtained at bootstrap and returns
// its confirmed result. The result and the hook notification caused by the
// same action are separate signals; neither waits for the other.
package bridge
