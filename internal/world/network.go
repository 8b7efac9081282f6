package world

import "github.com/roach88/mudbridge/internal/replica"

// Network bundles the running world and its replica. It is what the bridge
// hands, opaquely, to the dev-tools mounter.
type Network struct {
	World   *World
	Replica *replica.Registry
	Syncer  *replica.Syncer
}
