// Package backend manages upstream services for the gateway: the
// registry of known services, their instances, load balancing across
// healthy instances, and the background health checking that feeds the
// balancer's view of instance health.
//
// Health state follows a single-writer discipline: only the health
// checker mutates an instance's status, everything on the request path
// just reads it.
package backend
