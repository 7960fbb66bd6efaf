// Package webhooks contains provider signature verification and the
// ingress gateway that turns verified deliveries into queued events.
//
// Every named delivery attempt produces a webhook log row, whether or not
// an event was created, so rejected and misconfigured calls stay auditable.
package webhooks
