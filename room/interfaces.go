package room

// Counter reports how many agents are registered right now. It is defined
// here to break the import cycle between room and server.
type Counter interface {
	ConnectedCount() int
}
