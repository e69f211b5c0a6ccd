package modbus

import (
	"fmt"
	"time"
)

// transactor is the transport half of a client: it exchanges one pdu with
// one unit. Exception responses come back as *Error, transport problems as
// ErrDisconnected or ErrNoResponse.
type transactor interface {
	roundTrip(unit byte, tx pdu, tout time.Duration) (pdu, error)
}

// client binds a unit id to a transport. Both the RTU master and the TCP
// client hand these out from GetClient.
type client struct {
	unit int
	bus  transactor
}

// UnitID identifies which unit this client queries.
func (c client) UnitID() int {
	return c.unit
}

// query runs one exchange and feeds the response payload to decode. The
// returned channel delivers exactly one error (possibly nil).
func (c client) query(tout time.Duration, tx pdu, decode func(r *dataReader) error) <-chan error {
	progress := make(chan error, 1)
	go func() {
		rx, err := c.bus.roundTrip(bytePanic(c.unit), tx, tout)
		if err != nil {
			progress <- err
			return
		}
		if rx.function != tx.function {
			progress <- fmt.Errorf("Response function %02x does not match request function %02x", rx.function, tx.function)
			return
		}
		r := getReader(rx.data)
		if err := decode(&r); err != nil {
			progress <- err
			return
		}
		progress <- r.remaining()
	}()
	return progress
}
