package modbus

/*
This file contains the routines for reading from and writing to PDU frames
*/

import "fmt"

// dataBuilder is used to build outgoing frames we send to a remote system
type dataBuilder struct {
	data []byte
}

func intsToBytes(ints []int) []byte {
	b := make([]byte, len(ints))
	for i, v := range ints {
		b[i] = bytePanic(v)
	}
	return b
}

func bytesToInt(bytes []byte) []int {
	ints := make([]int, len(bytes))
	for i, v := range bytes {
		ints[i] = int(v)
	}
	return ints
}

func (p *dataBuilder) payload() []byte {
	return p.data
}

func (p *dataBuilder) byte(b int) {
	p.data = append(p.data, bytePanic(b))
}

func (p *dataBuilder) bytes(s ...int) {
	p.data = append(p.data, intsToBytes(s)...)
}

func (p *dataBuilder) word(w int) {
	wordPanic(w)
	p.data = append(p.data, byte(w>>8), byte(w&0xff))
}

func (p *dataBuilder) words(wds ...int) {
	for _, w := range wds {
		p.word(w)
	}
}

// nwords emits the byte count of the words followed by the words themselves,
// the layout of 0x03/0x04 responses and the tail of 0x10 requests.
func (p *dataBuilder) nwords(s ...int) {
	p.byte(len(s) * 2)
	p.words(s...)
}

type dataReader struct {
	cursor int
	data   []byte
}

func getReader(payload []byte) dataReader {
	return dataReader{0, payload}
}

func (p *dataReader) canRead(count int) error {
	over := p.cursor + count - len(p.data)
	if over > 0 {
		os := ""
		if over > 1 {
			os = "s"
		}
		cs := ""
		if count > 1 {
			cs = "s"
		}
		return fmt.Errorf("Unable to read %v byte%v beyond end of data. Request %v byte%v from %v in %v size slice", over, os, count, cs, p.cursor, len(p.data))
	}
	return nil
}

func (p *dataReader) byte() (int, error) {
	if err := p.canRead(1); err != nil {
		return 0, err
	}
	b := p.data[p.cursor]
	p.cursor++
	return int(b), nil
}

func (p *dataReader) word() (int, error) {
	if err := p.canRead(2); err != nil {
		return 0, err
	}
	w := uint16(p.data[p.cursor])<<8 | uint16(p.data[p.cursor+1])
	p.cursor += 2
	return int(w), nil
}

func (p *dataReader) words(count int) ([]int, error) {
	if err := p.canRead(count * 2); err != nil {
		return nil, err
	}
	wds := make([]int, 0, count)
	for i := 0; i < count; i++ {
		w, _ := p.word()
		wds = append(wds, w)
	}
	return wds, nil
}

// nwords reads a byte count followed by that many bytes worth of words, the
// layout of 0x03/0x04 responses.
func (p *dataReader) nwords() ([]int, error) {
	count, err := p.byte()
	if err != nil {
		return nil, err
	}
	if count%2 != 0 {
		return nil, fmt.Errorf("Expected an even byte count for register data, got %v", count)
	}
	return p.words(count / 2)
}

func (p *dataReader) remaining() error {
	left := len(p.data) - p.cursor
	if left != 0 {
		ls := ""
		if left != 1 {
			ls = "s"
		}
		return fmt.Errorf("Expected to read all the payload data, but %v byte%v remain", left, ls)
	}
	return nil
}
