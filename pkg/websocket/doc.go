// Package websocket implements an RFC 6455 client layered on pkg/httpclient:
// the upgrade handshake, frame encode/decode, payload masking, fragmentation
// reassembly, control-frame handling (ping/pong/close), a heartbeat
// keep-alive state machine, a close-handshake state machine with timeout,
// and an automatic-reconnect supervisor.
//
// Diagram
//
//	+----------------+                          +----------------+
//	|     Client     |                          |     Server     |
//	+----------------+                          +----------------+
//	         |                                           |
//	         |------------ GET /chat HTTP/1.1 ---------->|
//	         |                                           |
//	         |<- - HTTP/1.1 101 Switching Protocols - - -|
//	         |                                           |
//	         |<---------~ WebSockets Handshake ~-------->|
//	         |                                           |
//	         |------ Frame: TextMessage, "Hello" ------->|
//	         |                                           |
//	         |<------ Frame: TextMessage, "Hello" -------|
//	         |                                           |
//	         .                                           .
package websocket
