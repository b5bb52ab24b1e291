/*
	Package jsonrpc2 implements bidirectional JSONRPC 2.0 sessions over a
	message-framed transport (see the ws subpackage).

	Conn is one side of a session. Once the reserved "connect" handshake
	completes, there is no asymmetry between the side that dialed and the side
	that accepted: both can call, notify and respond. Calls are correlated by
	id in a pending table and complete exactly once, with a response, a
	timeout, or the closing of the connection. Outbound messages that cannot
	be sent are kept in an outbox.Outbox and replayed in order on the next
	session. The dialing side reconnects with exponential backoff.

	Server is an RPC method registry. Given a receiver, it will expose callable
	exported methods, and it can be used as the Handler of a Conn.

	When a Conn receives a call, it includes a context which contains a
	service value that can be acquired with CtxService(ctx). The service can be
	used to send calls back to the caller.

	Local and HTTPServer/HTTPService reuse the same registry in-process and
	over one-shot HTTP requests.
*/
package jsonrpc2
