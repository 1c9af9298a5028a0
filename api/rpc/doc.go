/*
Package rpc defines the wire surface of the xbat.Controller gRPC service:
the request and response messages, the JSON codec they travel with, the
hand-maintained service descriptor and a typed client.

The REST front-end and the controller share these messages. Encoding is
gRPC's registered "json" content subtype rather than protobuf, so the
front-end (and any debugging client) can speak the protocol without a
generated stub; the service descriptor plays the role protoc-generated
code would otherwise fill.
*/
package rpc
