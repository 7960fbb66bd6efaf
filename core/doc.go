// Package core contains the event queue domain contracts, entities, and
// handler registries. The gateway, dispatcher, and storage adapters all
// depend on this package; core depends on none of them.
package core
