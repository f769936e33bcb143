// Package relay implements the rendezvous relay: a WebSocket service that
// pairs two participants in a room and forwards their negotiation messages
// (offer, answer, ice-candidate) verbatim.
//
// The relay holds no state beyond live connections and room membership, and it
// never inspects negotiation payloads. Late or misaddressed messages are
// dropped, not errors: a relay frame racing a disconnect is a normal event.
package relay
