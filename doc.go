// Package txnode is the public surface of a lightweight transaction node.
//
// A node accepts JSON-RPC 2.0 requests over HTTP and persistent WebSocket
// connections, validates submitted transaction requests, records them in a
// transaction book backed by LevelDB (or memory) and answers state-proof
// queries against a keccak Merkle commitment tree. Caller faults are reported
// with stable, configurable error codes; internal faults are masked as
// "Unknown error occurred".
//
// Optional event receivers consume transactions and state updates from a
// Watermill transport (Go channels, Kafka, RabbitMQ, NATS or HTTP webhooks)
// with retries, poison-topic forwarding and Prometheus router metrics.
//
// A minimal embedding loads a Config, builds a Node and runs it until the
// context ends:
//
//	cfg := txnode.DefaultConfig()
//	node, err := txnode.NewNode(ctx, cfg, txnode.NewDiscardLogger())
//	if err != nil {
//		return err
//	}
//	defer node.Close()
//	return node.Run(ctx)
//
// # Methods
//
// eth_sendTransaction, txpool_getHashes, txpool_count, personal_ecRecover,
// eth_sign (only with a signer key), state_getProof, state_verifyProof,
// state_getRoot and the built-in rpc_methods listing.
//
// # Transports
//
// Event transports register themselves with DefaultTransportRegistry when
// their package is imported; import transport/transports for all of them.
package txnode
