package domain

import "github.com/google/uuid"

// Typed IDs keep the different aggregates from being mixed up at compile
// time. They are plain UUIDs on the wire and in the database.

type EntityID uuid.UUID

func NewEntityID() EntityID { return EntityID(uuid.New()) }

func ParseEntityID(s string) (EntityID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EntityID{}, err
	}
	return EntityID(u), nil
}

func (id EntityID) String() string { return uuid.UUID(id).String() }
func (id EntityID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id EntityID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *EntityID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = EntityID(u)
	return nil
}

type RecordID uuid.UUID

func NewRecordID() RecordID { return RecordID(uuid.New()) }

func ParseRecordID(s string) (RecordID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RecordID{}, err
	}
	return RecordID(u), nil
}

func (id RecordID) String() string { return uuid.UUID(id).String() }
func (id RecordID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id RecordID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *RecordID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = RecordID(u)
	return nil
}

// CorrelationID links the two ledger legs written for one physical
// transfer. Both legs carry the same value.
type CorrelationID uuid.UUID

func NewCorrelationID() CorrelationID { return CorrelationID(uuid.New()) }

func (id CorrelationID) String() string { return uuid.UUID(id).String() }
func (id CorrelationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id CorrelationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *CorrelationID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = CorrelationID(u)
	return nil
}

type PaymentID uuid.UUID

func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

func (id PaymentID) String() string { return uuid.UUID(id).String() }
func (id PaymentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id PaymentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *PaymentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = PaymentID(u)
	return nil
}
