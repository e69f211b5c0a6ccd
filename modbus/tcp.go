package modbus

/*
MBAP framing shared by the TCP client and server. A frame is

    txid(2) proto(2)=0 length(2) unit(1) function(1) data...

where length counts the unit byte and the PDU.
*/

import (
	"fmt"
	"io"
	"net"
	"time"
)

// setupConn applies the socket options both ends use.
func setupConn(conn *net.TCPConn) error {
	if err := conn.SetKeepAlivePeriod(time.Second * 60); err != nil {
		return err
	}
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	return conn.SetNoDelay(true)
}

// readTCPFrame reads exactly one MBAP frame off the connection. Read
// deadlines are the caller's business. Malformed headers return errors
// wrapping ErrBadFrame; the stream is not resynchronizable after one.
func readTCPFrame(conn net.Conn) (adu, error) {
	header := make([]byte, 7)
	if _, err := io.ReadFull(conn, header); err != nil {
		return adu{}, err
	}
	if proto := getWord(header, 2); proto != 0 {
		return adu{}, fmt.Errorf("MBAP protocol identifier 0x%04x is not Modbus: %w", proto, ErrBadFrame)
	}
	length := int(getWord(header, 4))
	if length < 2 || length > 254 {
		return adu{}, fmt.Errorf("MBAP length %v out of range: %w", length, ErrBadFrame)
	}
	rest := make([]byte, length-1)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return adu{}, err
	}
	return adu{txid: getWord(header, 0), unit: header[6], pdu: pdu{rest[0], rest[1:]}}, nil
}

func buildTCPFrame(td adu) []byte {
	payload := 1 + len(td.data)
	sz := 7 + payload // data plus address, control, and function bytes
	data := make([]uint8, sz)
	setWord(data, 0, td.txid)
	setWord(data, 2, 0) // protocol identifier - always 0 for Modbus
	setWord(data, 4, uint16(1+payload))
	data[6] = td.unit
	data[7] = td.function
	copy(data[8:], td.pdu.data)
	return data
}
