package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ActorKind tags who is driving a transition.
type ActorKind string

const (
	ActorCustomer     ActorKind = "customer"
	ActorDistributor  ActorKind = "distributor"
	ActorManufacturer ActorKind = "manufacturer"
	ActorAdmin        ActorKind = "admin"
	// ActorSystem covers carrier webhooks, payment callbacks and the
	// shipment orchestrator acting on an order after a label purchase.
	ActorSystem ActorKind = "system"
)

// Actor identifies the caller of a workflow operation. Role dispatch happens
// once against the transition tables using Kind; ID scopes ownership checks.
type Actor struct {
	Kind ActorKind
	ID   uuid.UUID
}

// Customer returns a purchasing-customer actor.
func Customer(id uuid.UUID) Actor { return Actor{Kind: ActorCustomer, ID: id} }

// BusinessActor returns a supplying-business actor of the given kind.
func BusinessActor(kind BusinessKind, id uuid.UUID) Actor {
	if kind == BusinessManufacturer {
		return Actor{Kind: ActorManufacturer, ID: id}
	}
	return Actor{Kind: ActorDistributor, ID: id}
}

// Admin returns a platform operator actor.
func Admin(id uuid.UUID) Actor { return Actor{Kind: ActorAdmin, ID: id} }

// System returns the internal actor used for webhook-driven transitions.
func System() Actor { return Actor{Kind: ActorSystem} }

// IsBusiness reports whether the actor is a supplying business.
func (a Actor) IsBusiness() bool {
	return a.Kind == ActorDistributor || a.Kind == ActorManufacturer
}

func (a Actor) String() string {
	if a.Kind == ActorSystem {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}

// ParseActorKind validates an actor kind coming from an external surface.
// System is never accepted from outside.
func ParseActorKind(s string) (ActorKind, error) {
	switch k := ActorKind(s); k {
	case ActorCustomer, ActorDistributor, ActorManufacturer, ActorAdmin:
		return k, nil
	}
	return "", Invalid("actor.parse", fmt.Sprintf("unknown actor kind %q", s))
}
