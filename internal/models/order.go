package models

import "time"

// OrderLeg represents one order within a basket, in the field layout the
// Kite Publisher expects.
type OrderLeg struct {
	Exchange      Exchange    `json:"exchange"`
	TradingSymbol string      `json:"tradingsymbol"`
	Quantity      int         `json:"quantity"`
	Side          OrderSide   `json:"transaction_type"`
	Type          OrderType   `json:"order_type"`
	TriggerPrice  float64     `json:"trigger_price,omitempty"`
	Price         float64     `json:"price,omitempty"`
	Product       ProductType `json:"product"`
	Validity      string      `json:"validity,omitempty"` // DAY, IOC
	Variety       string      `json:"variety,omitempty"`  // regular
}

// Basket is an entry leg followed by a protective stop and a target.
type Basket struct {
	Instrument Instrument
	Side       OrderSide
	LTP        float64
	Legs       []OrderLeg
	CreatedAt  time.Time
}

// Entry returns the entry leg, or the zero leg for an empty basket.
func (b Basket) Entry() OrderLeg {
	if len(b.Legs) == 0 {
		return OrderLeg{}
	}
	return b.Legs[0]
}
