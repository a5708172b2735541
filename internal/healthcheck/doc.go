// Package healthcheck implements the cancelable polling loop that circuit
// breakers use to detect when a failing dependency is reachable again.
package healthcheck
