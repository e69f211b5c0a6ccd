package modbus

/*
Diagnostic counters for bus transports and the register server. A counter
manager is a goroutine owning the numbers; updates and reads are functions
posted to its channel, so no mutex is needed and reads see a consistent set.
*/

// BusDiagnostics snapshots the health counters of one bus transport.
type BusDiagnostics struct {
	// Messages counts frames successfully received.
	Messages int
	// CommErrors counts transport failures: timeouts, CRC mismatches,
	// dropped connections.
	CommErrors int
	// Exceptions counts Modbus exception responses received.
	Exceptions int
	// Overruns counts frames that arrived with nobody waiting for them.
	Overruns int
}

type busDiagnosticManager struct {
	stats BusDiagnostics
	ops   chan func()
}

func newBusDiagnosticManager() *busDiagnosticManager {
	d := &busDiagnosticManager{}
	d.ops = make(chan func(), 10)
	go d.manage()
	return d
}

func (d *busDiagnosticManager) manage() {
	for fn := range d.ops {
		fn()
	}
}

func (d *busDiagnosticManager) message() {
	d.ops <- func() { d.stats.Messages++ }
}

func (d *busDiagnosticManager) commError() {
	d.ops <- func() { d.stats.CommErrors++ }
}

func (d *busDiagnosticManager) exception() {
	d.ops <- func() { d.stats.Exceptions++ }
}

func (d *busDiagnosticManager) overrun() {
	d.ops <- func() { d.stats.Overruns++ }
}

func (d *busDiagnosticManager) getDiagnostics() BusDiagnostics {
	got := make(chan BusDiagnostics)
	d.ops <- func() {
		got <- d.stats
	}
	return <-got
}

// ServerDiagnostics snapshots the request counters of a register server.
type ServerDiagnostics struct {
	// Messages counts requests dispatched to the server.
	Messages int
	// Exceptions counts requests answered with a Modbus exception.
	Exceptions int
}

type serverDiagnosticManager struct {
	stats ServerDiagnostics
	ops   chan func()
}

func newServerDiagnosticManager() *serverDiagnosticManager {
	d := &serverDiagnosticManager{}
	d.ops = make(chan func(), 10)
	go d.manage()
	return d
}

func (d *serverDiagnosticManager) manage() {
	for fn := range d.ops {
		fn()
	}
}

func (d *serverDiagnosticManager) message() {
	d.ops <- func() { d.stats.Messages++ }
}

func (d *serverDiagnosticManager) exception() {
	d.ops <- func() { d.stats.Exceptions++ }
}

func (d *serverDiagnosticManager) getDiagnostics() ServerDiagnostics {
	got := make(chan ServerDiagnostics)
	d.ops <- func() {
		got <- d.stats
	}
	return <-got
}
