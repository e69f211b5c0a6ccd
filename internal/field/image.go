package field

import (
	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/regmap"
	"github.com/fieldgate/fieldgate/internal/telemetry"
	"github.com/fieldgate/fieldgate/modbus"
)

// Image is the register face of the field controller: the holding and input
// banks that masters see over Modbus TCP. Writes to the mode and command
// registers surface as events so the controller can react without polling
// its own registers.
type Image struct {
	srv      modbus.Server
	log      *zap.SugaredLogger
	packetCh chan []int
	modeCh   chan int
}

// NewImage builds the register image with the legacy bank sizes and hooks
// holding writes for validation and event extraction.
func NewImage(log *zap.SugaredLogger) *Image {
	im := &Image{
		srv:      modbus.NewServer(),
		log:      log,
		packetCh: make(chan []int, 8),
		modeCh:   make(chan int, 4),
	}
	im.srv.RegisterInputs(regmap.IRSize)
	im.srv.RegisterHoldings(regmap.HRSize, im.onHoldingWrite)
	return im
}

// Server exposes the image for the Modbus TCP front end.
func (im *Image) Server() modbus.Server {
	return im.srv
}

// PacketEvents delivers the 6-register command packet each time a master
// writes a non-zero command code.
func (im *Image) PacketEvents() <-chan []int {
	return im.packetCh
}

// ModeEvents delivers the written mode value on every mode register write,
// changed or not. Emergency latch clearing keys off the write itself.
func (im *Image) ModeEvents() <-chan int {
	return im.modeCh
}

// onHoldingWrite vetoes invalid mode values and turns command and mode
// writes into events. It runs on the Modbus server's request goroutine
// before the new values are stored, so packet registers outside the written
// range are read from the still-current bank.
func (im *Image) onHoldingWrite(s modbus.Server, atomic modbus.Atomic, address int, values []int, current []int) ([]int, error) {
	for i, v := range values {
		if address+i == regmap.HRMode && v != 0 && v != 1 {
			return nil, modbus.IllegalValueErrorF("Mode register accepts 0 (AUTO) or 1 (MANUAL), not %v", v)
		}
	}
	for i, v := range values {
		switch address + i {
		case regmap.HRMode:
			im.sendMode(v)
		case regmap.HRCommand:
			if v != 0 {
				im.sendPacket(im.assemblePacket(s, atomic, address, values))
			}
		}
	}
	return values, nil
}

// assemblePacket merges the incoming write with the current bank so partial
// writes (a bare FC06 to the command register) still yield all 6 registers.
func (im *Image) assemblePacket(s modbus.Server, atomic modbus.Atomic, address int, values []int) []int {
	packet := make([]int, command.PacketLen)
	for i := range packet {
		addr := regmap.HRCommand + i
		if addr >= address && addr < address+len(values) {
			packet[i] = values[addr-address]
			continue
		}
		got, err := s.ReadHoldings(atomic, addr, 1)
		if err != nil {
			im.log.Warnf("Command packet register %v unreadable: %v", addr, err)
			continue
		}
		packet[i] = got[0]
	}
	return packet
}

func (im *Image) sendPacket(packet []int) {
	select {
	case im.packetCh <- packet:
	default:
		im.log.Warnf("Command packet dropped, consumer not keeping up")
	}
}

func (im *Image) sendMode(mode int) {
	select {
	case im.modeCh <- mode:
	default:
	}
}

// Mode reads the mode register.
func (im *Image) Mode() telemetry.Mode {
	got, err := im.srv.ReadHoldingsAtomic(regmap.HRMode, 1)
	if err != nil {
		return telemetry.ModeAuto
	}
	return telemetry.Mode(got[0])
}

// Target reads the counter target register.
func (im *Image) Target() int {
	got, err := im.srv.ReadHoldingsAtomic(regmap.HRTarget, 1)
	if err != nil {
		return 0
	}
	return got[0]
}

// SetMode writes the mode register on behalf of a local or JSON master and
// fires the same event a Modbus write would.
func (im *Image) SetMode(m telemetry.Mode) error {
	if m != telemetry.ModeAuto && m != telemetry.ModeManual {
		return modbus.IllegalValueErrorF("Mode register accepts 0 (AUTO) or 1 (MANUAL), not %v", int(m))
	}
	if err := im.srv.WriteHoldingsAtomic(regmap.HRMode, []int{int(m)}); err != nil {
		return err
	}
	im.sendMode(int(m))
	return nil
}

// SetTarget writes the counter target register.
func (im *Image) SetTarget(target int) error {
	return im.srv.WriteHoldingsAtomic(regmap.HRTarget, []int{target & 0xFFFF})
}

// ClearCommand zeroes the command code register only. The rest of the
// packet stays for whoever wants to inspect the last command.
func (im *Image) ClearCommand() {
	if err := im.srv.WriteHoldingsAtomic(regmap.HRCommand, []int{0}); err != nil {
		im.log.Warnf("Failed to clear command register: %v", err)
	}
}

// UpdateInputs publishes a snapshot into the input register bank.
func (im *Image) UpdateInputs(s telemetry.Snapshot) error {
	return im.srv.WriteInputsAtomic(0, regmap.PackInputs(s))
}
