// Package dispatcher implements the command dispatcher service: a
// routing table from command names to (owning service, target topic).
//
// Commands arrive on CLI_COMMAND. A registered command is forwarded to
// its owner's topic with envelope metadata carried over; an unknown
// command produces an error CLI_RESPONSE. Registrations happen at
// wiring time; the last registration for a name wins.
package dispatcher
