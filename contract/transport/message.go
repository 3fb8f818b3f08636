package transport

// TransportMessage is the unit exchanged with the bus: headers plus an already serialized body.
type TransportMessage struct {
	Headers Headers
	Body    []byte
}

// OutgoingMessage is a message buffered in a unit of work, waiting for commit.
// Destination is the resolved address: a formatted queue name or a TopicPrefix address.
type OutgoingMessage struct {
	Destination string
	Message     *TransportMessage
}
