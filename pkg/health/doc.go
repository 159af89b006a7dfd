// Package health implements the Health Prober described in the control
// plane design: one scheduler per registered instance, four probe kinds
// (HTTP, TCP, gRPC, Script), and independent failure/success thresholds
// driving Registry status transitions.
package health
