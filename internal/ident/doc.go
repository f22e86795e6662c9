// Package ident resolves the IRC identity strings of bridged Matrix users
// and answers RFC 1413 ident queries for their connections.
//
// Nick and username templates accept $LOCALPART, $USERID and $SERVER,
// taken from the owning Matrix user ID. The Mapper records which username
// owns each local TCP port once a connection is up, and Server answers
// the network's ident lookups from it.
package ident
