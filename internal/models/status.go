package models

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
	BookingCompleted BookingStatus = "COMPLETED"
)

var validNext = map[BookingStatus]map[BookingStatus]bool{
	BookingPending:   {BookingConfirmed: true, BookingCancelled: true, BookingExpired: true},
	BookingConfirmed: {BookingCompleted: true},
	BookingCancelled: {},
	BookingExpired:   {},
	BookingCompleted: {},
}

// CanTransition reports whether a booking may move from one status to another
func CanTransition(from, to BookingStatus) bool {
	return validNext[from][to]
}

// Valid reports whether s is a known status
func (s BookingStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// HoldsResource reports whether a booking in this status blocks its dates
func (s BookingStatus) HoldsResource() bool {
	return s != BookingCancelled && s != BookingExpired
}

// PaymentStatus is the lifecycle state of a payment
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)
