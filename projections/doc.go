// Package projections runs named read-model projections over the purr global
// log. A Manager starts one Driver per projection; each Driver resumes from
// its persisted checkpoint, applies records strictly in log order, persists
// the new position after every successful apply and restarts itself from the
// last checkpoint when the subscription drops for a transient reason.
//
// Delivery is at-least-once: apply and checkpoint are not atomic, so
// projectors must tolerate seeing a record again after a crash or restart.
package projections
