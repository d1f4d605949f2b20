package domain

// ItemTransitions is the role-gated order item state machine.
// Manufacturers share the distributor table minus every declined target.
var ItemTransitions = TransitionTable[ItemStatus]{
	ItemPending: {
		ActorCustomer:     {ItemCancelled},
		ActorDistributor:  {ItemConfirmed, ItemDeclined, ItemCancelled},
		ActorManufacturer: {ItemConfirmed, ItemCancelled},
		ActorAdmin:        {ItemConfirmed, ItemDeclined, ItemCancelled},
	},
	ItemConfirmed: {
		ActorCustomer:     {ItemCancelled},
		ActorDistributor:  {ItemProcessing, ItemDeclined, ItemCancelled},
		ActorManufacturer: {ItemProcessing, ItemCancelled},
		ActorAdmin:        {ItemProcessing, ItemDeclined, ItemCancelled},
		ActorSystem:       {ItemProcessing},
	},
	ItemProcessing: {
		ActorDistributor:  {ItemShipped, ItemCancelled},
		ActorManufacturer: {ItemShipped, ItemCancelled},
		ActorAdmin:        {ItemShipped, ItemCancelled},
		ActorSystem:       {ItemShipped, ItemFailed, ItemReturnedToSupplier},
	},
	ItemShipped: {
		ActorCustomer:     {ItemDelivered},
		ActorDistributor:  {ItemOutForDelivery, ItemCancelled},
		ActorManufacturer: {ItemOutForDelivery, ItemCancelled},
		ActorAdmin:        {ItemOutForDelivery, ItemDelivered, ItemCancelled},
		ActorSystem:       {ItemOutForDelivery, ItemDelivered, ItemFailed, ItemReturnedToSupplier},
	},
	ItemOutForDelivery: {
		ActorCustomer:     {ItemDelivered},
		ActorDistributor:  {ItemDelivered, ItemCancelled},
		ActorManufacturer: {ItemDelivered, ItemCancelled},
		ActorAdmin:        {ItemDelivered, ItemCancelled},
		ActorSystem:       {ItemDelivered, ItemFailed, ItemReturnedToSupplier},
	},
	ItemDelivered:          {},
	ItemDeclined:           {},
	ItemCancelled:          {},
	ItemFailed:             {},
	ItemReturnedToSupplier: {},
}

// shippedStatuses are the item states that count as "after shipment" for
// the cancellation refund policy.
var shippedStatuses = map[ItemStatus]bool{
	ItemShipped:        true,
	ItemOutForDelivery: true,
	ItemDelivered:      true,
}

// HasShipped reports whether the item has left the business.
func (s ItemStatus) HasShipped() bool { return shippedStatuses[s] }

// IsTerminal reports whether no actor can move the item any further.
func (s ItemStatus) IsTerminal() bool { return ItemTransitions.Terminal(s) }
